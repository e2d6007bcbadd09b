package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var ErrEmptyEmbedding = errors.New("empty embedding")

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder builds an embedder. An empty baseURL targets the OpenAI API
// and an empty model falls back to text-embedding-3-small.
func NewOpenAIEmbedder(baseURL, model, apiKey string, httpClient *http.Client) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.HTTPClient = httpClient

	m := openai.EmbeddingModel(model)
	if model == "" {
		m = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: m}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	return parseEmbedding(resp)
}

func parseEmbedding(r openai.EmbeddingResponse) ([]float32, error) {
	if len(r.Data) == 0 || len(r.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return r.Data[0].Embedding, nil
}
