package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/podsift/podsift/internal/llmutil"
	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/types"
)

// Extractor issues one extraction request per chunk and parses the
// response into raw insights. The category schema is closed input:
// categories the model invents are dropped, never adopted.
type Extractor struct {
	gen    ports.TextGenerator
	schema types.CategorySchema
	log    *logrus.Entry
}

func New(gen ports.TextGenerator, schema types.CategorySchema, log *logrus.Entry) *Extractor {
	if log == nil {
		log = logging.Discard()
	}
	return &Extractor{gen: gen, schema: schema, log: log}
}

type responseItem struct {
	Category   string  `json:"category"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type response struct {
	Insights []responseItem `json:"insights"`
}

// Extract asks the text-generation capability for the chunk's insights.
// An unparseable response is retried once with a stricter reformulation;
// a second failure yields an error for this chunk only. Individually
// malformed items are dropped without invalidating their siblings.
func (e *Extractor) Extract(ctx context.Context, chunk types.Chunk) ([]types.RawInsight, error) {
	content, err := e.gen.Generate(ctx, e.request(chunk, false))
	if err != nil {
		return nil, fmt.Errorf("extract chunk %s: %w", chunk.ID, err)
	}

	items, perr := parse(content)
	if perr != nil {
		e.log.WithField("chunk", chunk.ID).WithError(perr).
			Debug("unparseable extraction response, retrying strict")
		content, err = e.gen.Generate(ctx, e.request(chunk, true))
		if err != nil {
			return nil, fmt.Errorf("extract chunk %s (strict retry): %w", chunk.ID, err)
		}
		items, perr = parse(content)
		if perr != nil {
			return nil, fmt.Errorf("extract chunk %s: %w: %v", chunk.ID, types.ErrValidation, perr)
		}
	}

	out := make([]types.RawInsight, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		cat := types.Category(strings.TrimSpace(it.Category))
		if !e.schema.Contains(cat) {
			e.log.WithFields(logrus.Fields{"chunk": chunk.ID, "category": it.Category}).
				Debug("dropping insight with unknown category")
			continue
		}
		out = append(out, types.RawInsight{
			ID:         uuid.NewString(),
			ChunkID:    chunk.ID,
			ChunkIndex: chunk.Index,
			Category:   cat,
			Text:       text,
			Confidence: clamp01(it.Confidence),
		})
	}
	return out, nil
}

func (e *Extractor) request(chunk types.Chunk, strict bool) ports.GenerateRequest {
	var b strings.Builder
	b.WriteString("You are an expert analyst extracting key insights from a spoken transcript. ")
	b.WriteString("Extract specific, valuable, distinct insights and assign each to exactly one of these categories:\n")
	for _, c := range e.schema {
		b.WriteString("- ")
		b.WriteString(string(c))
		b.WriteString("\n")
	}
	b.WriteString("\nUse the speakers' own wording. Skip generic statements. ")
	b.WriteString("For quotes include the person being quoted and their exact words. ")
	b.WriteString(`Return JSON: {"insights":[{"category":"...","text":"...","confidence":0.0-1.0}]}.`)
	if strict {
		b.WriteString(" Respond with ONLY the JSON object. No prose, no markdown fences, no commentary of any kind.")
	}

	return ports.GenerateRequest{
		System:     b.String(),
		Input:      chunk.Text,
		SchemaName: "insight_extraction",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"insights": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"category":   map[string]any{"type": "string"},
							"text":       map[string]any{"type": "string"},
							"confidence": map[string]any{"type": "number"},
						},
						"required": []string{"category", "text"},
					},
				},
			},
			"required": []string{"insights"},
		},
	}
}

func parse(content string) ([]responseItem, error) {
	clean, err := llmutil.JSONObject(content)
	if err != nil {
		return nil, err
	}
	var resp response
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	return resp.Insights, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
