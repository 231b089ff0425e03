package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/podsift/podsift/internal/domain/chunking"
	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/types"
)

// Extractor turns one chunk into raw insights.
type Extractor interface {
	Extract(ctx context.Context, chunk types.Chunk) ([]types.RawInsight, error)
}

// Deduplicator clusters raw insights into canonical ones.
type Deduplicator interface {
	Deduplicate(ctx context.Context, raws []types.RawInsight) ([]types.CanonicalInsight, []types.Failure)
}

// Locator anchors a canonical insight's text to a time range.
type Locator interface {
	Locate(ctx context.Context, text string, tr types.Transcript) types.Location
}

type Deps struct {
	Extract Extractor
	Dedup   Deduplicator
	Locate  Locator
	Log     *logrus.Entry
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	return Usecase{d: d}
}

type Input struct {
	Transcript    types.Transcript
	MaxTokens     int
	OverlapTokens int
	Concurrency   int
}

type Result struct {
	Chunks   []types.Chunk
	Raw      []types.RawInsight
	Insights []types.CanonicalInsight
	Report   types.RunReport
}

// Run drives one transcript through chunking, extraction, dedup and
// timestamp location. Only a structurally invalid transcript is fatal;
// every other failure is recorded per item and the run completes with a
// report alongside whatever resolved.
func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	log := u.d.Log.WithField("transcript", in.Transcript.ID)
	report := types.RunReport{TranscriptID: in.Transcript.ID, Status: types.RunPending}

	if err := in.Transcript.Validate(); err != nil {
		report.Status = types.RunFailed
		return Result{Report: report}, fmt.Errorf("invalid transcript: %w", err)
	}

	concurrency := in.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	chunks := chunking.Split(in.Transcript, in.MaxTokens, in.OverlapTokens)
	report.Status = types.RunChunked
	report.ChunkCount = len(chunks)
	log.WithField("chunks", len(chunks)).Info("transcript chunked")

	raws, extractFailures := u.extractAll(ctx, chunks, concurrency)
	if err := ctx.Err(); err != nil {
		report.Status = types.RunFailed
		return Result{Report: report}, err
	}
	report.Status = types.RunExtracted
	report.RawCount = len(raws)
	report.Failures = append(report.Failures, extractFailures...)
	log.WithFields(logrus.Fields{"raw": len(raws), "failed_chunks": len(extractFailures)}).
		Info("chunks extracted")

	insights, dedupFailures := u.d.Dedup.Deduplicate(ctx, raws)
	report.Status = types.RunDeduplicated
	report.Failures = append(report.Failures, dedupFailures...)
	log.WithField("canonical", len(insights)).Info("raw insights deduplicated")

	u.locateAll(ctx, insights, in.Transcript, concurrency)
	if err := ctx.Err(); err != nil {
		report.Status = types.RunFailed
		return Result{Report: report}, err
	}
	report.Status = types.RunTimestamped
	for _, c := range insights {
		switch c.Status {
		case types.StatusUnresolved:
			report.Unresolved = append(report.Unresolved, c.ID)
			report.Failures = append(report.Failures, types.Failure{
				Kind:   types.FailureResolution,
				Stage:  "locate",
				ItemID: c.ID,
				Detail: "no plausible match in transcript",
			})
		case types.StatusAmbiguous:
			report.Ambiguous = append(report.Ambiguous, c.ID)
		}
	}

	sortInsights(insights)
	report.Status = types.RunComplete
	log.WithFields(logrus.Fields{
		"insights":   len(insights),
		"unresolved": len(report.Unresolved),
		"ambiguous":  len(report.Ambiguous),
	}).Info("run complete")

	return Result{Chunks: chunks, Raw: raws, Insights: insights, Report: report}, nil
}

// extractAll fans chunks out to a bounded worker pool. Completion order
// does not matter downstream because clustering is order-independent,
// but results are re-sorted by chunk index to keep reports stable.
func (u Usecase) extractAll(ctx context.Context, chunks []types.Chunk, concurrency int) ([]types.RawInsight, []types.Failure) {
	type result struct {
		chunk types.Chunk
		raws  []types.RawInsight
		err   error
	}

	jobs := make(chan types.Chunk, len(chunks))
	for _, c := range chunks {
		jobs <- c
	}
	close(jobs)

	results := make(chan result, len(chunks))
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if ctx.Err() != nil {
					return
				}
				raws, err := u.d.Extract.Extract(ctx, c)
				results <- result{chunk: c, raws: raws, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var raws []types.RawInsight
	var failures []types.Failure
	for res := range results {
		if res.err != nil {
			failures = append(failures, types.Failure{
				Kind:   failureKind(res.err),
				Stage:  "extract",
				ItemID: res.chunk.ID,
				Detail: res.err.Error(),
			})
			continue
		}
		raws = append(raws, res.raws...)
	}
	sort.Slice(raws, func(i, j int) bool {
		if raws[i].ChunkIndex != raws[j].ChunkIndex {
			return raws[i].ChunkIndex < raws[j].ChunkIndex
		}
		return raws[i].Text < raws[j].Text
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].ItemID < failures[j].ItemID })
	return raws, failures
}

// locateAll resolves time anchors concurrently; each insight is
// independent so workers write only to their own element.
func (u Usecase) locateAll(ctx context.Context, insights []types.CanonicalInsight, tr types.Transcript, concurrency int) {
	jobs := make(chan int, len(insights))
	for i := range insights {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				loc := u.d.Locate.Locate(ctx, insights[i].Text, tr)
				insights[i].StartSec = loc.Start
				insights[i].EndSec = loc.End
				insights[i].Status = loc.Status
			}
		}()
	}
	wg.Wait()
}

func failureKind(err error) types.FailureKind {
	if errors.Is(err, types.ErrValidation) {
		return types.FailureValidation
	}
	return types.FailureTransport
}

// sortInsights orders the final set by timeline, with unresolved
// insights last, so exports read in playback order.
func sortInsights(insights []types.CanonicalInsight) {
	sort.Slice(insights, func(i, j int) bool {
		si, sj := insights[i].StartSec, insights[j].StartSec
		switch {
		case si == nil && sj == nil:
			return insights[i].Text < insights[j].Text
		case si == nil:
			return false
		case sj == nil:
			return true
		case *si != *sj:
			return *si < *sj
		default:
			return insights[i].Text < insights[j].Text
		}
	})
}
