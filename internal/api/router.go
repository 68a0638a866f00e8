package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/total-shambles/yank/internal/relay"
)

// NewRouter builds the router mounted at /api. Every route except the API
// document sits behind the API key check.
func NewRouter(rl *relay.Relay, models ModelService, apiKey string) chi.Router {
	r := chi.NewRouter()
	r.Get("/openapi.json", OpenAPIHandler())
	r.Get("/docs", SwaggerHandler())
	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(apiKey))
		r.Post("/generate", GenerateHandler(rl))
		r.Post("/rewrite", RewriteHandler(rl))
		r.Post("/classify", ClassifyHandler(rl))
		r.Get("/models", ListModelsHandler(models))
		r.Post("/models/download", DownloadModelHandler(models))
	})
	return r
}
