package genjob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Status of a job as reported by the rendering backend.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusComplete
)

// ArtifactRef identifies one output image on the backend. The triple is
// opaque to everything but Fetch.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Backend is the rendering service. Submit returns the backend-assigned
// job id, Poll reports progress plus the output refs once finished, and
// Fetch retrieves a single artifact.
type Backend interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Poll(ctx context.Context, jobID string) (Status, []ArtifactRef, error)
	Fetch(ctx context.Context, ref ArtifactRef) ([]byte, error)
}

// HTTPBackend talks to a ComfyUI-style rendering server: POST /prompt
// to queue a graph, GET /history/{id} for completion, GET /view for
// the rendered images.
type HTTPBackend struct {
	baseURL  string
	template *Template
	client   *http.Client
}

func NewHTTPBackend(baseURL string, template *Template) *HTTPBackend {
	return &HTTPBackend{
		baseURL:  baseURL,
		template: template,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type submitRequest struct {
	Prompt map[string]any `json:"prompt"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

func (b *HTTPBackend) Submit(ctx context.Context, prompt string) (string, error) {
	graph, err := b.template.Build(prompt)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	body, err := json.Marshal(submitRequest{Prompt: graph})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit rejected: status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("submit response missing prompt id")
	}
	return out.PromptID, nil
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []ArtifactRef `json:"images"`
	} `json:"outputs"`
}

func (b *HTTPBackend) Poll(ctx context.Context, jobID string) (Status, []ArtifactRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/history/"+url.PathEscape(jobID), nil)
	if err != nil {
		return StatusPending, nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return StatusPending, nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusPending, nil, fmt.Errorf("poll: status %d", resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return StatusPending, nil, fmt.Errorf("decode history: %w", err)
	}

	// The backend omits the job from history until it finishes.
	entry, ok := history[jobID]
	if !ok {
		return StatusRunning, nil, nil
	}

	var refs []ArtifactRef
	for _, output := range entry.Outputs {
		refs = append(refs, output.Images...)
	}
	return StatusComplete, refs, nil
}

func (b *HTTPBackend) Fetch(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", ref.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
