// Package embedding generates, caches and compares content vectors for
// similarity search and auto-linking.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/starford/muninn/internal/apperr"
)

// Provider is the consumed embedding capability. Implementations may
// call out to a local model runner or a remote API.
type Provider interface {
	// Generate returns the embedding vector for text.
	Generate(ctx context.Context, text string) ([]float32, error)
	// Model names the embedding model in use.
	Model() string
}

// DefaultModel is the embedding model assumed when none is configured.
const DefaultModel = "nomic-embed-text"

// DefaultBaseURL points at a local Ollama instance's OpenAI-compatible API.
const DefaultBaseURL = "http://localhost:11434/v1"

const defaultHTTPTimeout = 30 * time.Second

// HTTPProvider talks to an OpenAI-compatible /embeddings endpoint
// (Ollama, Docker Model Runner, or the hosted API).
type HTTPProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given endpoint and model.
// Empty arguments fall back to the local defaults.
func NewHTTPProvider(baseURL, model string) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Model returns the configured model name.
func (p *HTTPProvider) Model() string { return p.model }

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Generate requests a single embedding vector.
func (p *HTTPProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, apperr.Validation("embedding input must not be empty")
	}
	vecs, err := p.generateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, apperr.Provider("provider returned no embedding", nil)
	}
	return vecs[0], nil
}

func (p *HTTPProvider) generateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, apperr.Provider("encode embedding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Provider("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Provider("embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperr.Provider("embedding API status "+resp.Status+": "+string(msg), nil)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Provider("decode embedding response", err)
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
