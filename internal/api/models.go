package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	ollamaapi "github.com/ollama/ollama/api"

	"github.com/total-shambles/yank/internal/logx"
	"github.com/total-shambles/yank/internal/metrics"
)

// ModelService lists and pulls models on the upstream server.
type ModelService interface {
	Models(ctx context.Context) ([]ollamaapi.ListModelResponse, error)
	Pull(ctx context.Context, name string) error
}

// ListModelsHandler handles GET /api/models.
func ListModelsHandler(ms ModelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := ms.Models(r.Context())
		if err != nil {
			logx.Log.Warn().Str("request_id", chiMiddleware.GetReqID(r.Context())).Err(err).Msg("list models")
			writeError(w, http.StatusBadGateway, "failed to fetch models")
			return
		}
		if models == nil {
			models = []ollamaapi.ListModelResponse{}
		}
		AllowListedModels(models)
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	}
}

type downloadBody struct {
	Name string `json:"llm_name"`
}

// DownloadModelHandler handles POST /api/models/download. The reply is sent
// once the pull has completed.
func DownloadModelHandler(ms ModelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body downloadBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		name := strings.TrimSpace(body.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "llm_name is required")
			return
		}
		if err := ms.Pull(r.Context(), name); err != nil {
			logx.Log.Warn().Str("request_id", chiMiddleware.GetReqID(r.Context())).Str("model", name).Err(err).Msg("pull model")
			writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to download model %s", name))
			return
		}
		metrics.AllowModels(name)
		writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("model %s downloaded successfully", name)})
	}
}

// AllowListedModels lets the models installed upstream appear as metric
// labels.
func AllowListedModels(models []ollamaapi.ListModelResponse) {
	for _, m := range models {
		metrics.AllowModels(m.Name, m.Model)
	}
}
