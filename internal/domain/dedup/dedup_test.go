package dedup

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/podsift/podsift/internal/types"
)

// fakeEmbedder returns a fixed vector per text.
type fakeEmbedder struct {
	vecs map[string][]float64
	err  error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		v, ok := f.vecs[t]
		if !ok {
			v = []float64{0, 0, 1}
		}
		out = append(out, v)
	}
	return out, nil
}

func raw(id string, chunkIdx int, cat types.Category, text string) types.RawInsight {
	return types.RawInsight{ID: id, ChunkID: "c", ChunkIndex: chunkIdx, Category: cat, Text: text}
}

func TestDeduplicate_MergesNearDuplicates(t *testing.T) {
	t.Parallel()

	emb := fakeEmbedder{vecs: map[string][]float64{
		"raised a $2M seed round":        {1, 0.01, 0},
		"closed a $2 million seed round": {1, 0.02, 0},
		"hire slowly, fire fast":         {0, 1, 0},
	}}
	d := New(emb, 0.9, nil)

	raws := []types.RawInsight{
		raw("r1", 0, "Numbers & Metrics", "raised a $2M seed round"),
		raw("r2", 1, "Numbers & Metrics", "closed a $2 million seed round"),
		raw("r3", 0, "Numbers & Metrics", "hire slowly, fire fast"),
	}
	got, failures := d.Deduplicate(context.Background(), raws)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 canonical insights, got %d", len(got))
	}

	var merged *types.CanonicalInsight
	for i := range got {
		if len(got[i].MemberIDs) == 2 {
			merged = &got[i]
		}
	}
	if merged == nil {
		t.Fatalf("expected one merged cluster, got %+v", got)
	}
	if merged.Text != "closed a $2 million seed round" {
		t.Fatalf("expected longest text as representative, got %q", merged.Text)
	}
	ids := append([]string(nil), merged.MemberIDs...)
	sort.Strings(ids)
	if ids[0] != "r1" || ids[1] != "r2" {
		t.Fatalf("unexpected members: %v", merged.MemberIDs)
	}
}

func TestDeduplicate_NeverMergesAcrossCategories(t *testing.T) {
	t.Parallel()

	emb := fakeEmbedder{vecs: map[string][]float64{
		"the same text": {1, 0, 0},
	}}
	d := New(emb, 0.5, nil)

	got, _ := d.Deduplicate(context.Background(), []types.RawInsight{
		raw("r1", 0, "Quotes", "the same text"),
		raw("r2", 0, "Stories", "the same text"),
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 canonical insights across categories, got %d", len(got))
	}
}

func TestDeduplicate_OrderIndependent(t *testing.T) {
	t.Parallel()

	// a~b and b~c but not a~c: greedy scans give order-dependent
	// results here, connected components must not.
	emb := fakeEmbedder{vecs: map[string][]float64{
		"alpha": {1, 0.30, 0},
		"bridge text between": {1, 0.45, 0},
		"gamma": {1, 0.60, 0},
	}}
	d := New(emb, 0.985, nil)

	forward := []types.RawInsight{
		raw("r1", 0, "Stories", "alpha"),
		raw("r2", 1, "Stories", "bridge text between"),
		raw("r3", 2, "Stories", "gamma"),
	}
	reversed := []types.RawInsight{forward[2], forward[0], forward[1]}

	a, _ := d.Deduplicate(context.Background(), forward)
	b, _ := d.Deduplicate(context.Background(), reversed)

	if membershipKey(a) != membershipKey(b) {
		t.Fatalf("clustering depends on input order:\n%s\nvs\n%s", membershipKey(a), membershipKey(b))
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	t.Parallel()

	emb := fakeEmbedder{vecs: map[string][]float64{
		"raised a $2M seed round":        {1, 0.01, 0},
		"closed a $2 million seed round": {1, 0.02, 0},
		"hire slowly, fire fast":         {0, 1, 0},
	}}
	d := New(emb, 0.9, nil)

	first, _ := d.Deduplicate(context.Background(), []types.RawInsight{
		raw("r1", 0, "Quotes", "raised a $2M seed round"),
		raw("r2", 1, "Quotes", "closed a $2 million seed round"),
		raw("r3", 0, "Quotes", "hire slowly, fire fast"),
	})

	// Re-wrap the canonical representatives as singleton raw inputs.
	again := make([]types.RawInsight, 0, len(first))
	for i, c := range first {
		again = append(again, raw(c.ID, i, c.Category, c.Text))
	}
	second, _ := d.Deduplicate(context.Background(), again)

	if len(second) != len(first) {
		t.Fatalf("re-deduplication changed cluster count: %d -> %d", len(first), len(second))
	}
	want := map[string]bool{}
	for _, c := range first {
		want[c.Text] = true
	}
	for _, c := range second {
		if !want[c.Text] {
			t.Fatalf("unexpected representative after re-deduplication: %q", c.Text)
		}
	}
}

func TestDeduplicate_TotalMembership(t *testing.T) {
	t.Parallel()

	emb := fakeEmbedder{vecs: map[string][]float64{}}
	d := New(emb, 0.9, nil)

	raws := []types.RawInsight{
		raw("r1", 0, "Quotes", "a"),
		raw("r2", 0, "Stories", "b"),
		raw("r3", 1, "Quotes", "c"),
		raw("r4", 2, "Frameworks", "d"),
	}
	got, _ := d.Deduplicate(context.Background(), raws)

	total := 0
	seen := map[string]bool{}
	for _, c := range got {
		if len(c.MemberIDs) == 0 {
			t.Fatalf("canonical insight %s has no members", c.ID)
		}
		total += len(c.MemberIDs)
		for _, id := range c.MemberIDs {
			if seen[id] {
				t.Fatalf("raw insight %s belongs to more than one cluster", id)
			}
			seen[id] = true
		}
	}
	if total != len(raws) {
		t.Fatalf("membership total %d != raw count %d", total, len(raws))
	}
}

func TestDeduplicate_EmbedderOutageDegradesToLexical(t *testing.T) {
	t.Parallel()

	d := New(fakeEmbedder{err: errors.New("connection refused")}, 0.5, nil)

	got, failures := d.Deduplicate(context.Background(), []types.RawInsight{
		raw("r1", 0, "Quotes", "ship early and iterate quickly"),
		raw("r2", 1, "Quotes", "ship early and iterate quickly always"),
		raw("r3", 0, "Quotes", "completely unrelated sentence here"),
	})
	if len(failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(failures))
	}
	if failures[0].Kind != types.FailureTransport || failures[0].Stage != "dedup" {
		t.Fatalf("unexpected failure record: %+v", failures[0])
	}
	if len(got) != 2 {
		t.Fatalf("expected lexical fallback to merge the near-duplicates, got %d clusters", len(got))
	}
}

func TestDeduplicate_SingletonKept(t *testing.T) {
	t.Parallel()

	d := New(fakeEmbedder{vecs: map[string][]float64{}}, 0.9, nil)
	got, _ := d.Deduplicate(context.Background(), []types.RawInsight{
		raw("r1", 0, "Stories", "only one"),
	})
	if len(got) != 1 || len(got[0].MemberIDs) != 1 {
		t.Fatalf("expected singleton cluster to survive, got %+v", got)
	}
}

// membershipKey renders clustering as category-sorted member id sets so
// two results can be compared up to identifier renaming.
func membershipKey(cs []types.CanonicalInsight) string {
	keys := make([]string, 0, len(cs))
	for _, c := range cs {
		ids := append([]string(nil), c.MemberIDs...)
		sort.Strings(ids)
		key := string(c.Category) + ":"
		for _, id := range ids {
			key += id + ","
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "\n"
	}
	return out
}
