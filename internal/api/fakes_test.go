package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/total-shambles/yank/internal/relay"
)

// fakeUpstream answers every generate call with the same body or error.
type fakeUpstream struct {
	body  string
	err   error
	open  func(ctx context.Context) io.ReadCloser
	mu    sync.Mutex
	calls []call
}

type call struct{ model, prompt string }

func (f *fakeUpstream) GenerateStream(ctx context.Context, model, prompt string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{model, prompt})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.open != nil {
		return f.open(ctx), nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeUpstream) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newRelay(up *fakeUpstream) *relay.Relay {
	return relay.New(up, "llama3.2", time.Second)
}

// stalledBody blocks until the call is canceled.
type stalledBody struct{ ctx context.Context }

func (b stalledBody) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (stalledBody) Close() error { return nil }

// brokenBody yields data once and then fails like a dropped connection.
type brokenBody struct {
	data string
	sent bool
}

func (b *brokenBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.data), nil
	}
	return 0, errors.New("connection reset by peer")
}

func (*brokenBody) Close() error { return nil }

type fakeModels struct {
	list    []ollamaapi.ListModelResponse
	err     error
	pulled  []string
	pullErr error
}

func (f *fakeModels) Models(context.Context) ([]ollamaapi.ListModelResponse, error) {
	return f.list, f.err
}

func (f *fakeModels) Pull(_ context.Context, name string) error {
	f.pulled = append(f.pulled, name)
	return f.pullErr
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}
