package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/total-shambles/yank/internal/logx"
)

// maxErrorBody bounds how much of a failed upstream response is kept.
const maxErrorBody = 4 << 10

// GenerateRequest is the body sent to the upstream /api/generate endpoint.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// StatusError reports a non-success status returned by the upstream.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// Client is a tiny HTTP client for talking to an Ollama compatible server.
type Client struct {
	BaseURL    string
	httpClient *http.Client
	api        *api.Client
}

// New returns a client for the server at base. A nil hc uses a fresh
// http.Client without an overall timeout; deadlines come from the context.
func New(base string, hc *http.Client) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", base)
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{BaseURL: base, httpClient: hc, api: api.NewClient(u, hc)}, nil
}

// GenerateStream posts a streaming generate request and returns the raw
// response body once a success status has been received. The caller owns the
// body and must close it. Streaming is always requested from the upstream.
func (c *Client) GenerateStream(ctx context.Context, model, prompt string) (io.ReadCloser, error) {
	b, err := json.Marshal(GenerateRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp.Body, nil
}

// Models lists the models installed on the upstream.
func (c *Client) Models(ctx context.Context) ([]api.ListModelResponse, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Pull downloads a model on the upstream and waits for completion.
func (c *Client) Pull(ctx context.Context, name string) error {
	return c.api.Pull(ctx, &api.PullRequest{Model: name}, func(p api.ProgressResponse) error {
		logx.Log.Debug().Str("model", name).Str("status", p.Status).Int64("completed", p.Completed).Int64("total", p.Total).Msg("pull progress")
		return nil
	})
}

// Ping checks that the upstream answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.api.Heartbeat(ctx)
}
