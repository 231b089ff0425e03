package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/podsift/podsift/internal/llmutil"
	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/types"
)

const (
	// DefaultFloor is the minimum fallback similarity below which no
	// timestamp is reported at all. Below it the insight stays
	// unresolved; a fabricated anchor is worse than none.
	DefaultFloor = 0.55

	// DefaultToleranceSec bounds how far the model-reported range may
	// drift from the textual match before the result is flagged
	// ambiguous for downstream review.
	DefaultToleranceSec = 30.0
)

// Locator resolves a canonical insight's text to a time range in the
// transcript. The text-generation capability is the authoritative
// method because representative text may paraphrase the transcript; a
// deterministic fuzzy token-run match serves as fallback and as a
// second opinion.
type Locator struct {
	gen       ports.TextGenerator
	floor     float64
	tolerance float64
	log       *logrus.Entry
}

func New(gen ports.TextGenerator, floor, toleranceSec float64, log *logrus.Entry) *Locator {
	if floor <= 0 || floor >= 1 {
		floor = DefaultFloor
	}
	if toleranceSec <= 0 {
		toleranceSec = DefaultToleranceSec
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Locator{gen: gen, floor: floor, tolerance: toleranceSec, log: log}
}

// Locate returns the insight's time anchor. It never fabricates: if
// neither method places the text, the location is unresolved with empty
// times.
func (l *Locator) Locate(ctx context.Context, text string, tr types.Transcript) types.Location {
	pStart, pEnd, perr := l.primary(ctx, text, tr)
	fStart, fEnd, fok := fuzzyMatch(tr, text, l.floor)

	if perr == nil {
		if fok && (math.Abs(pStart-fStart) > l.tolerance || math.Abs(pEnd-fEnd) > l.tolerance) {
			// Keep the semantically-aware answer but preserve the fact
			// that the second opinion disagreed.
			return types.Location{Start: &pStart, End: &pEnd, Status: types.StatusAmbiguous}
		}
		return types.Location{Start: &pStart, End: &pEnd, Status: types.StatusResolved}
	}

	l.log.WithError(perr).Debug("primary timestamp method failed, using textual fallback")
	if fok {
		return types.Location{Start: &fStart, End: &fEnd, Status: types.StatusResolved}
	}
	return types.Location{Status: types.StatusUnresolved}
}

func (l *Locator) primary(ctx context.Context, text string, tr types.Transcript) (float64, float64, error) {
	content, err := l.gen.Generate(ctx, ports.GenerateRequest{
		System: "You are given a timestamped transcript and a piece of text that was spoken in it, " +
			"possibly paraphrased. Report the start and end time in seconds at which the text was " +
			`spoken. Return JSON: {"start_sec": <number>, "end_sec": <number>}.`,
		Input:      renderTimed(tr) + "\n\nText to locate:\n" + text,
		SchemaName: "timestamp_location",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_sec": map[string]any{"type": "number"},
				"end_sec":   map[string]any{"type": "number"},
			},
			"required": []string{"start_sec", "end_sec"},
		},
	})
	if err != nil {
		return 0, 0, err
	}

	clean, err := llmutil.JSONObject(content)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	var out struct {
		Start *float64 `json:"start_sec"`
		End   *float64 `json:"end_sec"`
	}
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return 0, 0, fmt.Errorf("%w: decode timestamps: %v", types.ErrValidation, err)
	}
	if out.Start == nil || out.End == nil {
		return 0, 0, fmt.Errorf("%w: missing start or end", types.ErrValidation)
	}
	s, e := *out.Start, *out.End
	if s < 0 || e < s || e > tr.Duration {
		return 0, 0, fmt.Errorf("%w: range [%v, %v] outside [0, %v]", types.ErrValidation, s, e, tr.Duration)
	}
	return s, e, nil
}

// renderTimed lays the transcript out as timestamped lines so the model
// can read times off directly.
func renderTimed(tr types.Transcript) string {
	const tokensPerLine = 25

	var b strings.Builder
	for lo := 0; lo < len(tr.Tokens); lo += tokensPerLine {
		hi := lo + tokensPerLine
		if hi > len(tr.Tokens) {
			hi = len(tr.Tokens)
		}
		fmt.Fprintf(&b, "[%.1f-%.1f]", tr.Tokens[lo].Start, tr.Tokens[hi-1].End)
		for _, tok := range tr.Tokens[lo:hi] {
			b.WriteByte(' ')
			b.WriteString(tok.Text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// fuzzyMatch scans contiguous token runs for the one whose concatenated
// text is most similar to target at the character level. Runs close to
// the target's own word count are tried in a few sizes; ties go to the
// longer run.
func fuzzyMatch(tr types.Transcript, target string, floor float64) (float64, float64, bool) {
	targetNorm := normalize(target)
	if targetNorm == "" || len(tr.Tokens) == 0 {
		return 0, 0, false
	}
	targetGrams := bigrams(targetNorm)

	words := make([]string, len(tr.Tokens))
	for i, tok := range tr.Tokens {
		words[i] = normalize(tok.Text)
	}

	n := len(strings.Fields(targetNorm))
	if n < 1 {
		n = 1
	}
	sizes := runSizes(n, len(tr.Tokens))

	best := -1.0
	bestLo, bestHi := 0, 0
	for _, size := range sizes {
		for lo := 0; lo+size <= len(words); lo++ {
			sim := dice(targetGrams, bigrams(strings.Join(words[lo:lo+size], " ")))
			if sim >= best {
				best = sim
				bestLo, bestHi = lo, lo+size
			}
		}
	}
	if best < floor {
		return 0, 0, false
	}
	return tr.Tokens[bestLo].Start, tr.Tokens[bestHi-1].End, true
}

func runSizes(n, max int) []int {
	cands := []int{n / 2, n, n + n/2}
	var out []int
	seen := map[int]bool{}
	for _, s := range cands {
		if s < 1 {
			s = 1
		}
		if s > max {
			s = max
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func normalize(s string) string {
	var b strings.Builder
	prevSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func bigrams(s string) map[string]int {
	out := make(map[string]int)
	r := []rune(s)
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])]++
	}
	return out
}

// dice is the Sorensen-Dice coefficient over character bigram multisets.
func dice(a, b map[string]int) float64 {
	var na, nb, inter int
	for g, c := range a {
		na += c
		if bc, ok := b[g]; ok {
			if bc < c {
				inter += bc
			} else {
				inter += c
			}
		}
	}
	for _, c := range b {
		nb += c
	}
	if na+nb == 0 {
		return 0
	}
	return 2 * float64(inter) / float64(na+nb)
}
