package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/total-shambles/yank/internal/prompt"
	"github.com/total-shambles/yank/internal/relay"
	"github.com/total-shambles/yank/internal/serverstate"
)

type rewriteBody struct {
	Query   string `json:"query"`
	Context string `json:"context"`
	Model   string `json:"model"`
}

// RewriteHandler handles POST /api/rewrite. The model turns a follow-up query
// into a self-contained one and the reply carries the matching search URL.
func RewriteHandler(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serverstate.IsDraining() {
			writeError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		var body rewriteBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := prompt.Rewrite(body.Query, body.Context)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		done := serverstate.Begin()
		defer done()
		out, err := rl.Generate(r.Context(), relay.GenerateRequest{Model: body.Model, Prompt: p})
		if err != nil {
			writeRelayErr(w, r, err)
			return
		}
		q := prompt.CleanQuery(out)
		if q == "" {
			writeError(w, http.StatusBadGateway, "model returned an empty query")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"query": q, "search_url": prompt.SearchURL(q)})
	}
}

type classifyBody struct {
	Query  string `json:"query"`
	Scheme string `json:"scheme"`
	Model  string `json:"model"`
}

// ClassifyHandler handles POST /api/classify.
func ClassifyHandler(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if serverstate.IsDraining() {
			writeError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		var body classifyBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scheme, err := prompt.ParseScheme(body.Scheme)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := prompt.Classify(scheme, body.Query)
		if errors.Is(err, prompt.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		done := serverstate.Begin()
		defer done()
		out, err := rl.Generate(r.Context(), relay.GenerateRequest{Model: body.Model, Prompt: p})
		if err != nil {
			writeRelayErr(w, r, err)
			return
		}
		raw := strings.TrimSpace(out)
		writeJSON(w, http.StatusOK, map[string]string{
			"scheme": string(scheme),
			"label":  prompt.Label(scheme, raw),
			"raw":    raw,
		})
	}
}
