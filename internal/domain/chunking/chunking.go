package chunking

import (
	"fmt"
	"strings"

	"github.com/podsift/podsift/internal/types"
)

// Split cuts a transcript into overlapping chunks of at most maxTokens
// tokens, advancing by maxTokens-overlapTokens each step. The overlap
// exists so an insight whose supporting text straddles a window boundary
// still appears wholly inside at least one chunk; larger overlap buys
// recall at the cost of more extraction calls.
func Split(tr types.Transcript, maxTokens, overlapTokens int) []types.Chunk {
	// Guardrails keep callers safe from bad config while preserving the
	// overlap < maxTokens contract.
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
	}

	n := len(tr.Tokens)
	if n == 0 {
		return nil
	}
	if n <= maxTokens {
		return []types.Chunk{build(tr, 0, 0, n)}
	}

	stride := maxTokens - overlapTokens
	var out []types.Chunk
	for lo := 0; lo < n; lo += stride {
		hi := lo + maxTokens
		if hi > n {
			hi = n
		}
		out = append(out, build(tr, len(out), lo, hi))
		if hi == n {
			break
		}
	}
	return out
}

func build(tr types.Transcript, idx, lo, hi int) types.Chunk {
	parts := make([]string, 0, hi-lo)
	for _, tok := range tr.Tokens[lo:hi] {
		if t := strings.TrimSpace(tok.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return types.Chunk{
		ID:           fmt.Sprintf("%s-chunk-%03d", tr.ID, idx),
		TranscriptID: tr.ID,
		Index:        idx,
		Lo:           lo,
		Hi:           hi,
		Text:         strings.Join(parts, " "),
		StartSec:     tr.Tokens[lo].Start,
		EndSec:       tr.Tokens[hi-1].End,
	}
}
