// Package refine holds the single-pass text transforms around the core
// pipeline: hydrating raw transcript text into readable prose and
// generating short titles for segments and insights.
package refine

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/ports"
)

type Refiner struct {
	gen ports.TextGenerator
	log *logrus.Entry
}

func New(gen ports.TextGenerator, log *logrus.Entry) *Refiner {
	if log == nil {
		log = logging.Discard()
	}
	return &Refiner{gen: gen, log: log}
}

// HydrateSegment turns raw machine-transcribed text into clean readable
// prose. The words and meaning must not change, only capitalization,
// punctuation and structure. On failure the original text is returned
// unchanged; a missing cleanup is better than a missing segment.
func (r *Refiner) HydrateSegment(ctx context.Context, raw string) string {
	out, err := r.gen.Generate(ctx, ports.GenerateRequest{
		System: "The following is a raw machine-generated transcript segment. Rewrite it as a " +
			"clean, readable, well-punctuated paragraph. Correct capitalization and add " +
			"punctuation, but do not alter the underlying words or meaning. " +
			"Respond with only the cleaned text.",
		Input: raw,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		r.log.WithError(err).Debug("segment hydration failed, keeping raw text")
		return raw
	}
	return strings.TrimSpace(out)
}

// SegmentTitle generates a descriptive 7-10 word title for a cleaned
// transcript segment.
func (r *Refiner) SegmentTitle(ctx context.Context, cleaned string) (string, error) {
	out, err := r.gen.Generate(ctx, ports.GenerateRequest{
		System: "Generate a concise, descriptive title of at most 10 words for this transcript " +
			"segment. Respond with only the title, no quotation marks.",
		Input: cleaned,
	})
	if err != nil {
		return "", fmt.Errorf("segment title: %w", err)
	}
	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`))
	if title == "" {
		return "", fmt.Errorf("segment title: empty response")
	}
	return title, nil
}

// InsightTitle generates a short, specific title for an insight. The
// model is asked to wrap the title in <title> tags; if it does not, the
// trimmed response is used as-is.
func (r *Refiner) InsightTitle(ctx context.Context, insightText string) (string, error) {
	out, err := r.gen.Generate(ctx, ports.GenerateRequest{
		System: "Come up with a short, specific title (3-5 words) for the following insight. " +
			"Use the insight's own distinctive wording; generic titles are useless. Speak in " +
			"active voice, drop leading articles, avoid adverbs. " +
			"Wrap the title in <title> tags, e.g. <title>Employees Show Greatness Early</title>.",
		Input: insightText,
	})
	if err != nil {
		return "", fmt.Errorf("insight title: %w", err)
	}
	if title, ok := betweenTags(out, "title"); ok {
		return title, nil
	}
	title := strings.TrimSpace(out)
	if title == "" {
		return "", fmt.Errorf("insight title: empty response")
	}
	return title, nil
}

func betweenTags(s, tag string) (string, bool) {
	openTag, closeTag := "<"+tag+">", "</"+tag+">"
	i := strings.Index(s, openTag)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(openTag):]
	j := strings.Index(rest, closeTag)
	if j < 0 {
		return "", false
	}
	out := strings.TrimSpace(rest[:j])
	return out, out != ""
}
