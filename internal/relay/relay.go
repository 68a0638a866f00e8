package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/total-shambles/yank/internal/logx"
	"github.com/total-shambles/yank/internal/metrics"
	"github.com/total-shambles/yank/internal/ndjson"
	"github.com/total-shambles/yank/internal/ollama"
)

const (
	DefaultModel   = "llama3.2"
	DefaultTimeout = 120 * time.Second

	readBufferSize = 32 * 1024
)

var errClosed = errors.New("relay: stream closed")

// Upstream opens a streaming generate call against the language model server.
type Upstream interface {
	GenerateStream(ctx context.Context, model, prompt string) (io.ReadCloser, error)
}

// Relay forwards generate requests to an upstream. It holds only read-only
// configuration and may be shared by concurrent calls.
type Relay struct {
	upstream     Upstream
	defaultModel string
	timeout      time.Duration
	maxLine      int
}

// New returns a relay. An empty defaultModel falls back to DefaultModel. A
// timeout of zero or less disables the inactivity deadline.
func New(up Upstream, defaultModel string, timeout time.Duration) *Relay {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	metrics.AllowModels(defaultModel)
	return &Relay{upstream: up, defaultModel: defaultModel, timeout: timeout, maxLine: ndjson.DefaultMaxLine}
}

// SetMaxLine sets the line length above which a buffered upstream line is
// logged and counted. Such lines are still relayed. Values of zero or less
// restore ndjson.DefaultMaxLine.
func (r *Relay) SetMaxLine(n int) {
	if n <= 0 {
		n = ndjson.DefaultMaxLine
	}
	r.maxLine = n
}

// Open validates req and starts the upstream call. The returned stream must be
// closed by the caller. Upstream status failures are reported here, before any
// fragment is produced.
func (r *Relay) Open(ctx context.Context, req GenerateRequest) (*Stream, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	model := req.Model
	if model == "" {
		model = r.defaultModel
	}
	callCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		parent:  ctx,
		ctx:     callCtx,
		cancel:  cancel,
		model:   model,
		reqID:   chiMiddleware.GetReqID(ctx),
		dec:     ndjson.NewDecoder(),
		timeout: r.timeout,
		start:   time.Now(),
	}
	s.dec.SetMaxLine(r.maxLine)
	if r.timeout > 0 {
		s.timer = time.AfterFunc(r.timeout, s.expire)
	}
	logx.Log.Info().Str("request_id", s.reqID).Str("model", model).Bool("stream", req.Stream).Msg("relay start")

	body, err := r.upstream.GenerateStream(callCtx, model, req.Prompt)
	if err != nil {
		err = s.classify(err)
		s.finish(err)
		return nil, err
	}
	s.body = body
	s.ch = make(chan []byte)
	go s.pump()
	return s, nil
}

// Generate runs a relay call to completion and returns the concatenation of
// every fragment in arrival order.
func (r *Relay) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	s, err := r.Open(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = s.Close() }()
	var sb strings.Builder
	for {
		frag, ok := s.Next()
		if !ok {
			break
		}
		sb.WriteString(frag)
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Stream is a lazy sequence of decoded fragments from one relay call. It is
// not safe for concurrent use.
type Stream struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	model  string
	reqID  string
	dec    *ndjson.Decoder
	start  time.Time

	body io.ReadCloser
	ch   chan []byte
	// written by pump before ch is closed
	clean   bool
	readErr error

	timer   *time.Timer
	timeout time.Duration
	expired atomic.Bool

	pending   []string
	fragments int
	warned    bool
	done      bool
	err       error
	release   sync.Once
}

// Model returns the model the call was sent to.
func (s *Stream) Model() string { return s.model }

// Next returns the next fragment. It blocks until one is available and
// reports false once the stream has ended, cleanly or not; see Err.
func (s *Stream) Next() (string, bool) {
	for {
		if len(s.pending) > 0 {
			frag := s.pending[0]
			s.pending = s.pending[1:]
			return frag, true
		}
		if s.done {
			return "", false
		}
		data, ok := <-s.ch
		if !ok {
			if s.clean {
				s.push(s.dec.Finish())
				s.finish(nil)
			} else {
				s.finish(s.classify(s.readErr))
			}
			continue
		}
		s.push(s.dec.Feed(data))
		if !s.warned && s.dec.Buffered() > s.dec.MaxLine() {
			s.warned = true
			logx.Log.Warn().Str("request_id", s.reqID).Str("model", s.model).Int("buffered", s.dec.Buffered()).
				Int("max_line_bytes", s.dec.MaxLine()).Msg("upstream line exceeds max length; still buffering")
		}
	}
}

// Err returns the error that ended the stream, or nil after a clean
// completion. Fragments already returned by Next remain valid either way.
func (s *Stream) Err() error { return s.err }

// Close aborts the upstream call if it is still running and releases the
// connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.finish(errClosed)
	return nil
}

func (s *Stream) push(frags []string) {
	s.fragments += len(frags)
	s.pending = append(s.pending, frags...)
}

func (s *Stream) pump() {
	defer close(s.ch)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			// the idle clock measures the upstream only, not a slow reader
			if s.timer != nil {
				s.timer.Stop()
			}
			data := append([]byte(nil), buf[:n]...)
			select {
			case s.ch <- data:
			case <-s.ctx.Done():
				s.readErr = s.ctx.Err()
				return
			}
			if s.timer != nil {
				s.timer.Reset(s.timeout)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.clean = true
			} else {
				s.readErr = err
			}
			return
		}
	}
}

func (s *Stream) expire() {
	s.expired.Store(true)
	s.cancel()
}

func (s *Stream) classify(err error) error {
	var se *ollama.StatusError
	switch {
	case errors.As(err, &se):
		return &UpstreamError{Status: se.StatusCode, Body: se.Body}
	case s.expired.Load():
		return fmt.Errorf("%w: no data within %s", ErrUpstreamTimeout, s.timeout)
	case s.parent.Err() != nil:
		return s.parent.Err()
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

func (s *Stream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.release.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.cancel()
		if s.body != nil {
			_ = s.body.Close()
		}
	})

	outcome := Outcome(err)
	dur := time.Since(s.start)
	metrics.RecordRelay(s.model, outcome, dur)
	metrics.RecordFragments(s.model, s.fragments)
	metrics.RecordSkippedLines(s.dec.Skipped())
	metrics.RecordOversizedLines(s.dec.Oversized())

	ev := logx.Log.Info()
	if err != nil && outcome != "canceled" {
		ev = logx.Log.Warn().Err(err)
	}
	ev.Str("request_id", s.reqID).Str("model", s.model).Str("outcome", outcome).
		Int("fragments", s.fragments).Int("skipped_lines", s.dec.Skipped()).Dur("dur", dur).Msg("relay end")
}

// Outcome maps a relay error onto a short label used in logs and metrics.
func Outcome(err error) string {
	var ue *UpstreamError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.As(err, &ue):
		return "upstream_error"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, errClosed), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
