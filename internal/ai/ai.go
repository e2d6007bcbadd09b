package ai

import (
	"context"

	"github.com/esi_helpdesk/backend/internal/models"
)

// KnowledgeSource returns up to k documents ordered by descending similarity.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.RetrievedDocument, error)
}

// AnswerSynthesizer generates an answer grounded only in docs.
type AnswerSynthesizer interface {
	Generate(ctx context.Context, query string, docs []models.RetrievedDocument) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
