package api

import (
	"errors"
	"io"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/total-shambles/yank/internal/logx"
	"github.com/total-shambles/yank/internal/relay"
	"github.com/total-shambles/yank/internal/serverstate"
)

type generateBody struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Stream *bool  `json:"stream"`
}

// GenerateHandler handles POST /api/generate. Streaming replies are plain
// text flushed fragment by fragment; otherwise the aggregate is returned as
// {"response": ...}.
func GenerateHandler(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serverstate.IsDraining() {
			writeError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		var body generateBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req := relay.GenerateRequest{
			Model:  body.Model,
			Prompt: body.Prompt,
			Stream: body.Stream == nil || *body.Stream,
		}
		done := serverstate.Begin()
		defer done()

		if !req.Stream {
			out, err := rl.Generate(r.Context(), req)
			if err != nil {
				writeRelayErr(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"response": out})
			return
		}

		s, err := rl.Open(r.Context(), req)
		if err != nil {
			writeRelayErr(w, r, err)
			return
		}
		defer func() { _ = s.Close() }()
		streamFragments(w, r, s)
	}
}

// streamFragments copies fragments to w as they arrive. Once the status line
// is out, an upstream failure can only be signalled by aborting the response
// so the client sees a truncated body instead of a clean end.
func streamFragments(w http.ResponseWriter, r *http.Request, s *relay.Stream) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	for {
		frag, ok := s.Next()
		if !ok {
			break
		}
		if frag == "" {
			continue
		}
		if _, err := io.WriteString(w, frag); err != nil {
			logx.Log.Debug().Str("request_id", chiMiddleware.GetReqID(r.Context())).Err(err).Msg("client write failed")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := s.Err(); err != nil && relay.Outcome(err) != "canceled" {
		panic(http.ErrAbortHandler)
	}
}

// writeRelayErr maps the relay error taxonomy onto HTTP statuses.
func writeRelayErr(w http.ResponseWriter, r *http.Request, err error) {
	var ue *relay.UpstreamError
	reqID := chiMiddleware.GetReqID(r.Context())
	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ue):
		writeError(w, http.StatusBadGateway, ue.Error())
	case errors.Is(err, relay.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, relay.ErrUpstreamUnavailable.Error())
	case errors.Is(err, relay.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, relay.ErrUpstreamTimeout.Error())
	case relay.Outcome(err) == "canceled":
		// client is gone
		logx.Log.Debug().Str("request_id", reqID).Err(err).Msg("relay canceled")
	default:
		logx.Log.Error().Str("request_id", reqID).Err(err).Msg("relay failure")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
