package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAPIDocument(t *testing.T) {
	doc, err := LoadOpenAPI()
	if err != nil {
		t.Fatalf("LoadOpenAPI: %v", err)
	}
	for _, p := range []string{"/api/generate", "/api/models", "/api/models/download", "/api/rewrite", "/api/classify", "/health", "/receive_data", "/get_data", "/clear_data"} {
		if doc.Paths.Value(p) == nil {
			t.Errorf("missing path %s", p)
		}
	}
}

func TestOpenAPIHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	OpenAPIHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(doc.OpenAPI, "3.") || doc.Paths["/api/generate"] == nil {
		t.Fatalf("unexpected document: %s", rr.Body.String()[:80])
	}
}

func TestSwaggerHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	SwaggerHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	if !strings.Contains(rr.Body.String(), "url: 'openapi.json'") {
		t.Fatalf("swagger page does not point at the document")
	}
}
