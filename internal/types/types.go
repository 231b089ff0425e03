package types

import (
	"errors"
	"fmt"
)

// Token is one timestamped unit of transcribed speech. Produced once by
// the external transcription step; never mutated afterwards.
type Token struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the ordered token sequence for one recording.
type Transcript struct {
	ID       string  `json:"id"`
	Tokens   []Token `json:"tokens"`
	Duration float64 `json:"duration_sec"`
}

// Validate rejects structurally broken transcripts before any pipeline
// stage runs: tokens must be present, ordered, non-overlapping, and
// inside [0, Duration].
func (tr Transcript) Validate() error {
	if len(tr.Tokens) == 0 {
		return errors.New("transcript has no tokens")
	}
	if tr.Duration <= 0 {
		return fmt.Errorf("transcript duration must be > 0, got %v", tr.Duration)
	}
	prevEnd := 0.0
	for i, tok := range tr.Tokens {
		if tok.Start < 0 || tok.End < tok.Start {
			return fmt.Errorf("token %d has invalid range [%v, %v]", i, tok.Start, tok.End)
		}
		if tok.Start < prevEnd {
			return fmt.Errorf("token %d starts at %v before previous token ends at %v", i, tok.Start, prevEnd)
		}
		if tok.End > tr.Duration {
			return fmt.Errorf("token %d ends at %v past duration %v", i, tok.End, tr.Duration)
		}
		prevEnd = tok.End
	}
	return nil
}

// Chunk is a window of tokens sized for one extraction call. Consecutive
// chunks overlap so an insight straddling a window boundary still fits
// wholly inside at least one of them.
type Chunk struct {
	ID           string  `json:"id"`
	TranscriptID string  `json:"transcript_id"`
	Index        int     `json:"index"`
	Lo           int     `json:"lo"`
	Hi           int     `json:"hi"`
	Text         string  `json:"text"`
	StartSec     float64 `json:"start_sec"`
	EndSec       float64 `json:"end_sec"`
}

// Category names one insight bucket from the closed, per-run schema.
type Category string

// CategorySchema is the closed set of categories supplied once per run.
type CategorySchema []Category

func (s CategorySchema) Contains(c Category) bool {
	for _, v := range s {
		if v == c {
			return true
		}
	}
	return false
}

// DefaultCategories mirrors the category set the extraction prompt was
// tuned on. Deployments may override it, but never at run time.
func DefaultCategories() CategorySchema {
	return CategorySchema{
		"Business Ideas",
		"Mental Models",
		"Frameworks",
		"Stories",
		"Products Mentioned",
		"Actionable Advice",
		"Quotes",
		"Numbers & Metrics",
	}
}

// RawInsight is a single extraction result from one chunk, before
// deduplication. Many raw insights may describe the same real-world fact.
type RawInsight struct {
	ID         string   `json:"id"`
	ChunkID    string   `json:"chunk_id"`
	ChunkIndex int      `json:"chunk_index"`
	Category   Category `json:"category"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence,omitempty"`
}

// ResolutionStatus reports how a canonical insight's time anchor was
// determined.
type ResolutionStatus string

const (
	StatusResolved   ResolutionStatus = "resolved"
	StatusUnresolved ResolutionStatus = "unresolved"
	StatusAmbiguous  ResolutionStatus = "ambiguous"
)

// CanonicalInsight is one deduplicated insight. StartSec/EndSec stay nil
// when the locator could not place the text; they are never fabricated.
// Title is cosmetic and filled in late; it may be empty.
type CanonicalInsight struct {
	ID        string           `json:"id"`
	Category  Category         `json:"category"`
	Title     string           `json:"title,omitempty"`
	Text      string           `json:"text"`
	MemberIDs []string         `json:"member_ids"`
	StartSec  *float64         `json:"start_sec,omitempty"`
	EndSec    *float64         `json:"end_sec,omitempty"`
	Status    ResolutionStatus `json:"status"`
}

// Location is a resolved (or explicitly unresolved) time anchor.
type Location struct {
	Start  *float64
	End    *float64
	Status ResolutionStatus
}

// Failure sentinels for outbound calls and response handling. Components
// recover these at their own boundary; they are recorded, not fatal.
var (
	ErrTransport  = errors.New("transport failure")
	ErrValidation = errors.New("validation failure")
)

type FailureKind string

const (
	FailureTransport  FailureKind = "transport"
	FailureValidation FailureKind = "validation"
	FailureResolution FailureKind = "resolution"
)

// Failure is one recorded per-item problem surfaced in the run report.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Stage  string      `json:"stage"`
	ItemID string      `json:"item_id"`
	Detail string      `json:"detail"`
}

// RunStatus is the coordinator's per-transcript state machine.
type RunStatus string

const (
	RunPending      RunStatus = "pending"
	RunChunked      RunStatus = "chunked"
	RunExtracted    RunStatus = "extracted"
	RunDeduplicated RunStatus = "deduplicated"
	RunTimestamped  RunStatus = "timestamped"
	RunComplete     RunStatus = "complete"
	RunFailed       RunStatus = "failed"
)

// RunReport enumerates everything that went wrong alongside what
// succeeded, so partial success is visible instead of silently lossy.
type RunReport struct {
	TranscriptID string    `json:"transcript_id"`
	Status       RunStatus `json:"status"`
	ChunkCount   int       `json:"chunk_count"`
	RawCount     int       `json:"raw_count"`
	Failures     []Failure `json:"failures,omitempty"`
	Unresolved   []string  `json:"unresolved,omitempty"`
	Ambiguous    []string  `json:"ambiguous,omitempty"`
}
