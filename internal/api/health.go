package api

import (
	"net/http"
	"time"

	"github.com/total-shambles/yank/internal/serverstate"
)

// HealthHandler handles GET /health. A draining server answers 503 so load
// balancers stop routing to it.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if serverstate.IsDraining() {
			status, code = "draining", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
