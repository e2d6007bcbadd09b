package ai

import (
	"context"
	"fmt"

	"github.com/esi_helpdesk/backend/internal/models"
)

type VectorSearcher interface {
	SearchKnowledge(ctx context.Context, embedding []float32, k int) ([]models.RetrievedDocument, error)
}

// VectorKnowledgeSource embeds the query and runs a nearest-neighbour search.
type VectorKnowledgeSource struct {
	Embedder Embedder
	Index    VectorSearcher
}

func (v VectorKnowledgeSource) Retrieve(ctx context.Context, query string, k int) ([]models.RetrievedDocument, error) {
	if k <= 0 {
		k = 1
	}
	emb, err := v.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	docs, err := v.Index.SearchKnowledge(ctx, emb, k)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	return docs, nil
}
