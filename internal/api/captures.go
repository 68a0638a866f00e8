package api

import (
	_ "embed"
	"errors"
	"html/template"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/total-shambles/yank/internal/capture"
	"github.com/total-shambles/yank/internal/logx"
	"github.com/total-shambles/yank/internal/metrics"
)

//go:embed captures.html
var capturesHTML string

var capturesPage = template.Must(template.New("captures").Parse(capturesHTML))

// ReceiveDataHandler handles POST /receive_data.
func ReceiveDataHandler(store capture.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c capture.Capture
		if err := decodeBody(w, r, &c); err != nil {
			writeError(w, http.StatusBadRequest, capture.ErrInvalidCapture.Error())
			return
		}
		saved, err := store.Add(r.Context(), c)
		if errors.Is(err, capture.ErrInvalidCapture) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			storeFailure(w, r, err, "store capture")
			return
		}
		metrics.RecordCapture()
		logx.Log.Debug().Str("request_id", chiMiddleware.GetReqID(r.Context())).Str("key", saved.Key).Str("id", saved.ID).Msg("capture stored")
		writeJSON(w, http.StatusOK, map[string]any{"message": "Data received successfully", "capture": saved})
	}
}

// GetDataHandler handles GET /get_data. Captures are listed oldest first.
func GetDataHandler(store capture.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.List(r.Context())
		if err != nil {
			storeFailure(w, r, err, "list captures")
			return
		}
		if list == nil {
			list = []capture.Capture{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ClearDataHandler handles POST /clear_data.
func ClearDataHandler(store capture.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Clear(r.Context()); err != nil {
			storeFailure(w, r, err, "clear captures")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Data cleared successfully"})
	}
}

// CapturesPageHandler serves an HTML view of the captures, newest first.
func CapturesPageHandler(store capture.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.List(r.Context())
		if err != nil {
			storeFailure(w, r, err, "list captures")
			return
		}
		rows := make([]capture.Capture, len(list))
		for i, c := range list {
			rows[len(list)-1-i] = c
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := capturesPage.Execute(w, rows); err != nil {
			logx.Log.Error().Err(err).Msg("render captures page")
		}
	}
}

func storeFailure(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logx.Log.Error().Str("request_id", chiMiddleware.GetReqID(r.Context())).Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "capture store unavailable")
}
