package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

var errEmptyEmbedding = errors.New("embedding response contained no vectors")

// Embedder turns memory text into vectors for the memory store.
type Embedder struct {
	client    *genai.Client
	model     string // e.g., "text-embedding-004"
	dimension int32
}

// NewEmbedderFromClient shares an existing genai client. A zero dimension keeps the model default.
func NewEmbedderFromClient(c *genai.Client, model string, dimension int) *Embedder {
	return &Embedder{
		client:    c,
		model:     model,
		dimension: int32(dimension),
	}
}

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var config *genai.EmbedContentConfig
	if e.dimension > 0 {
		config = &genai.EmbedContentConfig{OutputDimensionality: &e.dimension}
	}
	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), config)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s failed: %w", e.model, err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, errEmptyEmbedding
	}
	return res.Embeddings[0].Values, nil
}
