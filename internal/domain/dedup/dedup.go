package dedup

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/types"
)

// DefaultThreshold is the merge threshold over cosine similarity of
// sentence embeddings. Lower collapses distinct insights into one
// record; higher lets duplicates survive as separate canonical
// insights. There is no value that avoids both failure modes, so it is
// exposed as configuration instead of hidden behind a heuristic.
const DefaultThreshold = 0.82

// Deduplicator clusters raw insights into canonical ones. Merges never
// cross categories, and clustering is connected components over a
// similarity graph, so the result does not depend on input order.
type Deduplicator struct {
	emb       ports.Embedder
	threshold float64
	log       *logrus.Entry
}

func New(emb ports.Embedder, threshold float64, log *logrus.Entry) *Deduplicator {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Deduplicator{emb: emb, threshold: threshold, log: log}
}

// Deduplicate clusters raws into canonical insights. An embedder outage
// degrades the affected category to a deterministic lexical similarity
// instead of aborting; the degradation is recorded as a failure.
func (d *Deduplicator) Deduplicate(ctx context.Context, raws []types.RawInsight) ([]types.CanonicalInsight, []types.Failure) {
	if len(raws) == 0 {
		return nil, nil
	}

	byCat := make(map[types.Category][]int)
	for i, r := range raws {
		byCat[r.Category] = append(byCat[r.Category], i)
	}
	cats := make([]types.Category, 0, len(byCat))
	for c := range byCat {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	var out []types.CanonicalInsight
	var failures []types.Failure
	for _, cat := range cats {
		idxs := byCat[cat]
		sim, fail := d.similarityFn(ctx, raws, idxs, cat)
		if fail != nil {
			failures = append(failures, *fail)
		}
		out = append(out, cluster(raws, idxs, sim, d.threshold)...)
	}
	return out, failures
}

// similarityFn returns a pairwise similarity function over the members
// of one category partition, indexed by position within idxs.
func (d *Deduplicator) similarityFn(ctx context.Context, raws []types.RawInsight, idxs []int, cat types.Category) (func(i, j int) float64, *types.Failure) {
	texts := make([]string, len(idxs))
	for k, i := range idxs {
		texts[k] = raws[i].Text
	}

	vecs, err := d.emb.Embed(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("%w: embedder returned %d vectors for %d texts", types.ErrValidation, len(vecs), len(texts))
	}
	if err != nil {
		d.log.WithError(err).WithField("category", cat).
			Warn("embedding failed, degrading to lexical similarity")
		return func(i, j int) float64 { return jaccard(texts[i], texts[j]) },
			&types.Failure{
				Kind:   types.FailureTransport,
				Stage:  "dedup",
				ItemID: string(cat),
				Detail: err.Error(),
			}
	}
	return func(i, j int) float64 { return cosine(vecs[i], vecs[j]) }, nil
}

// cluster builds the similarity graph for one category partition and
// emits one canonical insight per connected component. Singletons are
// kept: a unique insight is as valid as a repeated one.
func cluster(raws []types.RawInsight, idxs []int, sim func(i, j int) float64, threshold float64) []types.CanonicalInsight {
	n := len(idxs)
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sim(i, j) >= threshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], i)
	}

	out := make([]types.CanonicalInsight, 0, len(order))
	for _, root := range order {
		members := groups[root]
		rep := raws[idxs[members[0]]]
		memberIDs := make([]string, 0, len(members))
		for _, m := range members {
			r := raws[idxs[m]]
			memberIDs = append(memberIDs, r.ID)
			if better(r, rep) {
				rep = r
			}
		}
		out = append(out, types.CanonicalInsight{
			ID:        uuid.NewString(),
			Category:  rep.Category,
			Text:      rep.Text,
			MemberIDs: memberIDs,
			Status:    types.StatusUnresolved,
		})
	}
	return out
}

// better implements the total order for representative selection:
// longest text, then earliest originating chunk, then lexicographically
// smallest text. Total so the choice is reproducible.
func better(a, b types.RawInsight) bool {
	la, lb := len([]rune(a.Text)), len([]rune(b.Text))
	if la != lb {
		return la > lb
	}
	if a.ChunkIndex != b.ChunkIndex {
		return a.ChunkIndex < b.ChunkIndex
	}
	return a.Text < b.Text
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
