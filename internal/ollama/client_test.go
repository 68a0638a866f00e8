package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("localhost:11434/", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
	c, err := New("http://127.0.0.1:11434/", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.BaseURL != "http://127.0.0.1:11434" {
		t.Fatalf("base url %q", c.BaseURL)
	}
}

func TestGenerateStreamAlwaysStreams(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte("{\"response\":\"hi\"}\n"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.GenerateStream(context.Background(), "llama3.2", "hello")
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	defer func() { _ = body.Close() }()
	b, _ := io.ReadAll(body)
	if string(b) != "{\"response\":\"hi\"}\n" {
		t.Fatalf("body %q", b)
	}
	if !got.Stream || got.Model != "llama3.2" || got.Prompt != "hello" {
		t.Fatalf("request %+v", got)
	}
}

func TestGenerateStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, nil)
	_, err := c.GenerateStream(context.Background(), "missing", "hello")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", se.StatusCode)
	}
	if se.Body != `{"error":"model not found"}` {
		t.Fatalf("body %q", se.Body)
	}
}

func TestModelsAndPull(t *testing.T) {
	var pulled string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest","model":"llama3.2:latest","size":42}]}`))
		case "/api/pull":
			var body struct {
				Model string `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			pulled = body.Model
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte("{\"status\":\"pulling manifest\"}\n{\"status\":\"success\"}\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, _ := New(srv.URL, nil)
	models, err := c.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.2:latest" || models[0].Size != 42 {
		t.Fatalf("models %+v", models)
	}
	if err := c.Pull(context.Background(), "mistral"); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pulled != "mistral" {
		t.Fatalf("pulled %q", pulled)
	}
}
