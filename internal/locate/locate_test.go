package locate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/types"
)

type fakeGen struct {
	response string
	err      error
	lastReq  ports.GenerateRequest
}

func (f *fakeGen) Generate(_ context.Context, req ports.GenerateRequest) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

// testTranscript lays out one word per second across 20 seconds, with a
// distinctive funding phrase starting at second 5.
func testTranscript() types.Transcript {
	words := strings.Fields("so anyway like you know we raised a two million seed round last march and it changed everything for us")
	toks := make([]types.Token, 0, len(words))
	for i, w := range words {
		toks = append(toks, types.Token{Text: w, Start: float64(i), End: float64(i) + 0.9})
	}
	return types.Transcript{ID: "t1", Tokens: toks, Duration: 20}
}

func TestLocate_PrimaryResolved(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{response: `{"start_sec": 5.0, "end_sec": 12.9}`}
	l := New(gen, 0.5, 30, nil)

	loc := l.Locate(context.Background(), "we raised a two million seed round", testTranscript())
	if loc.Status != types.StatusResolved {
		t.Fatalf("expected resolved, got %s", loc.Status)
	}
	if loc.Start == nil || loc.End == nil || *loc.Start != 5.0 || *loc.End != 12.9 {
		t.Fatalf("expected primary range kept, got %+v", loc)
	}
	if !strings.Contains(gen.lastReq.Input, "[0.0-") {
		t.Fatalf("expected timestamped transcript in request, got: %.80s", gen.lastReq.Input)
	}
}

func TestLocate_InvalidPrimaryFallsBackToTextMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		response string
		err      error
	}{
		{"out of range", `{"start_sec": 5, "end_sec": 9999}`, nil},
		{"inverted", `{"start_sec": 12, "end_sec": 5}`, nil},
		{"missing field", `{"start_sec": 5}`, nil},
		{"not json", "around the ten second mark", nil},
		{"transport error", "", types.ErrTransport},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gen := &fakeGen{response: tc.response, err: tc.err}
			l := New(gen, 0.5, 30, nil)

			loc := l.Locate(context.Background(), "raised a two million seed round", testTranscript())
			if loc.Status != types.StatusResolved {
				t.Fatalf("expected fallback resolution, got %s", loc.Status)
			}
			if loc.Start == nil || loc.End == nil {
				t.Fatal("expected fallback times")
			}
			// The phrase sits around tokens 6..11 (seconds 6..11.9); allow
			// the fuzzy run to land anywhere inside that neighborhood.
			if *loc.Start < 4 || *loc.Start > 8 || *loc.End < 11 || *loc.End > 15 {
				t.Fatalf("fallback range off target: [%v, %v]", *loc.Start, *loc.End)
			}
		})
	}
}

func TestLocate_NoPlausibleMatchIsUnresolved(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{err: types.ErrTransport}
	l := New(gen, 0.5, 30, nil)

	loc := l.Locate(context.Background(), "quantum chromodynamics lattice computation", testTranscript())
	if loc.Status != types.StatusUnresolved {
		t.Fatalf("expected unresolved, got %s", loc.Status)
	}
	if loc.Start != nil || loc.End != nil {
		t.Fatalf("unresolved location must carry no times, got %+v", loc)
	}
}

func TestLocate_DisagreementIsAmbiguousKeepingPrimary(t *testing.T) {
	t.Parallel()

	// Primary claims the very start of the recording; the verbatim
	// match sits past 6s, far beyond the 2s tolerance.
	gen := &fakeGen{response: `{"start_sec": 0, "end_sec": 1}`}
	l := New(gen, 0.5, 2, nil)

	loc := l.Locate(context.Background(), "we raised a two million seed round", testTranscript())
	if loc.Status != types.StatusAmbiguous {
		t.Fatalf("expected ambiguous, got %s", loc.Status)
	}
	if loc.Start == nil || *loc.Start != 0 || loc.End == nil || *loc.End != 1 {
		t.Fatalf("ambiguous result must keep primary values, got %+v", loc)
	}
}

func TestFuzzyMatch_FindsVerbatimRun(t *testing.T) {
	t.Parallel()

	start, end, ok := fuzzyMatch(testTranscript(), "we raised a two million seed round", 0.5)
	if !ok {
		t.Fatal("expected a match")
	}
	if start < 4 || start > 6 || end < 11 || end > 13.5 {
		t.Fatalf("unexpected range: [%v, %v]", start, end)
	}
}

func TestFuzzyMatch_RespectsFloor(t *testing.T) {
	t.Parallel()

	if _, _, ok := fuzzyMatch(testTranscript(), "completely unrelated topic about sailing", 0.5); ok {
		t.Fatal("expected no match above the similarity floor")
	}
}

func TestFuzzyMatch_EmptyInputs(t *testing.T) {
	t.Parallel()

	if _, _, ok := fuzzyMatch(types.Transcript{}, "anything", 0.5); ok {
		t.Fatal("expected no match on empty transcript")
	}
	if _, _, ok := fuzzyMatch(testTranscript(), "!!!", 0.5); ok {
		t.Fatal("expected no match on unmatchable target")
	}
}

func TestPrimary_TransportErrorPassesThrough(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{err: types.ErrTransport}
	l := New(gen, 0.5, 30, nil)
	_, _, err := l.primary(context.Background(), "x", testTranscript())
	if !errors.Is(err, types.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
