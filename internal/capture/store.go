// Package capture keeps the values the browser extension reads from search
// pages so they can be inspected and cleared.
package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is the number of captures kept when no limit is configured.
const DefaultLimit = 100

// ErrInvalidCapture is returned when a capture lacks its key or value.
var ErrInvalidCapture = errors.New("invalid data format")

// Capture is one local storage value reported by the extension.
type Capture struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	URL       string    `json:"url,omitempty"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a bounded log of captures. Once the limit is reached the oldest
// entry is evicted on every Add.
type Store interface {
	Add(ctx context.Context, c Capture) (Capture, error)
	// List returns the stored captures, oldest first.
	List(ctx context.Context) ([]Capture, error)
	Clear(ctx context.Context) error
}

// prepare validates c and fills in the fields assigned on receipt.
func prepare(c Capture, now time.Time) (Capture, error) {
	if strings.TrimSpace(c.Key) == "" || c.Value == "" {
		return Capture{}, ErrInvalidCapture
	}
	c.ID = uuid.NewString()
	if c.Timestamp.IsZero() {
		c.Timestamp = now.UTC()
	}
	return c, nil
}

// MemoryStore is an in-process ring of captures.
type MemoryStore struct {
	mu    sync.Mutex
	items []Capture
	head  int
	limit int
	now   func() time.Time
}

// NewMemoryStore returns a store keeping at most limit captures.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{limit: limit, now: time.Now}
}

func (m *MemoryStore) Add(_ context.Context, c Capture) (Capture, error) {
	c, err := prepare(c, m.now())
	if err != nil {
		return Capture{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) < m.limit {
		m.items = append(m.items, c)
		return c, nil
	}
	m.items[m.head] = c
	m.head = (m.head + 1) % m.limit
	return c, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Capture, 0, len(m.items))
	out = append(out, m.items[m.head:]...)
	out = append(out, m.items[:m.head]...)
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	m.head = 0
	return nil
}
