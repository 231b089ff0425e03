package ports

import (
	"context"

	"github.com/podsift/podsift/internal/types"
)

// GenerateRequest is one synchronous call to the text-generation
// capability. Schema, when set, asks the provider for structured output
// matching the given JSON schema.
type GenerateRequest struct {
	System     string
	Input      string
	SchemaName string
	Schema     map[string]any
}

// TextGenerator is the external text-generation capability. Transport
// and schema problems come back as ordinary errors wrapping
// types.ErrTransport or types.ErrValidation.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder turns texts into sentence-level embedding vectors, one per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// RunRecord is what the store persists about one pipeline run.
type RunRecord struct {
	ID           string
	TranscriptID string
	Status       types.RunStatus
}

// InsightStore persists finished runs for downstream search and UI
// deep-linking.
type InsightStore interface {
	SaveRun(ctx context.Context, run RunRecord, insights []types.CanonicalInsight) error
	Close() error
}
