// Package pipeline wires the adapters and domain stages into a runnable
// end-to-end flow: read a transcript file, extract and deduplicate
// insights, anchor them in time, then write and persist the results.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/podsift/podsift/internal/domain/dedup"
	"github.com/podsift/podsift/internal/extract"
	"github.com/podsift/podsift/internal/locate"
	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/ports"
	"github.com/podsift/podsift/internal/ports/adapters/openrouter"
	"github.com/podsift/podsift/internal/ports/adapters/sqlitestore"
	"github.com/podsift/podsift/internal/refine"
	"github.com/podsift/podsift/internal/types"
	"github.com/podsift/podsift/internal/usecase"
)

type Config struct {
	InputJSON string
	OutDir    string
	DBPath    string

	Categories    []string
	MaxTokens     int
	OverlapTokens int
	Concurrency   int

	Threshold    float64
	Floor        float64
	ToleranceSec float64

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterEmbedModel   string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string

	Log *logrus.Entry
}

func (c Config) Validate() error {
	if c.InputJSON == "" {
		return errors.New("input is empty")
	}
	if _, err := os.Stat(c.InputJSON); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if c.MaxTokens <= 0 {
		return errors.New("chunk tokens must be > 0")
	}
	if c.OverlapTokens < 0 {
		return errors.New("overlap tokens must be >= 0")
	}
	if c.OverlapTokens >= c.MaxTokens {
		return errors.New("overlap tokens must be < chunk tokens")
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return errors.New("similarity threshold must be within (0, 1)")
	}
	if c.Floor <= 0 || c.Floor >= 1 {
		return errors.New("match floor must be within (0, 1)")
	}
	if c.ToleranceSec <= 0 {
		return errors.New("tolerance must be > 0")
	}
	return openrouter.ValidateBaseURL(
		c.OpenRouterBaseURL,
		c.OpenRouterAllowedHosts,
	)
}

// Run executes one full pipeline pass and writes insights.json and
// report.json under a per-run output directory. When DBPath is set the
// run is also persisted to SQLite.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}

	tr, err := loadTranscript(cfg.InputJSON)
	if err != nil {
		return err
	}

	schema := types.DefaultCategories()
	if len(cfg.Categories) > 0 {
		schema = make(types.CategorySchema, 0, len(cfg.Categories))
		for _, c := range cfg.Categories {
			schema = append(schema, types.Category(strings.TrimSpace(c)))
		}
	}

	llm := openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterEmbedModel, cfg.OpenRouterBaseURL)

	uc := usecase.New(usecase.Deps{
		Extract: extract.New(llm, schema, log),
		Dedup:   dedup.New(llm, cfg.Threshold, log),
		Locate:  locate.New(llm, cfg.Floor, cfg.ToleranceSec, log),
		Log:     log,
	})

	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	runOutDir := buildRunOutDir(outDir, cfg.InputJSON, time.Now().UTC())
	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return err
	}
	log.WithField("dir", runOutDir).Info("output run dir ready")

	res, err := uc.Run(ctx, usecase.Input{
		Transcript:    tr,
		MaxTokens:     cfg.MaxTokens,
		OverlapTokens: cfg.OverlapTokens,
		Concurrency:   cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	// Titles are cosmetic; a failed title never blocks the run.
	refiner := refine.New(llm, log)
	for i := range res.Insights {
		title, err := refiner.InsightTitle(ctx, res.Insights[i].Text)
		if err != nil {
			log.WithError(err).WithField("insight", res.Insights[i].ID).Debug("title generation failed")
			continue
		}
		res.Insights[i].Title = title
	}

	if err := writeJSON(filepath.Join(runOutDir, "insights.json"), res.Insights); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runOutDir, "segments.json"), buildSegments(ctx, refiner, res.Chunks)); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runOutDir, "report.json"), res.Report); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"insights": len(res.Insights),
		"failures": len(res.Report.Failures),
		"dir":      runOutDir,
	}).Info("artifacts written")

	if cfg.DBPath != "" {
		store, err := sqlitestore.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		run := ports.RunRecord{ID: uuid.NewString(), TranscriptID: tr.ID, Status: res.Report.Status}
		if err := store.SaveRun(ctx, run, res.Insights); err != nil {
			return fmt.Errorf("persist run: %w", err)
		}
		log.WithField("run", run.ID).Info("run persisted")
	}
	return nil
}

// segmentRecord is one readable transcript segment in segments.json.
type segmentRecord struct {
	ID       string  `json:"id"`
	Index    int     `json:"index"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Title    string  `json:"title,omitempty"`
	Text     string  `json:"text"`
}

// buildSegments turns the extraction chunks into readable segments:
// hydrated prose plus a short title. Both transforms fail soft, so a
// provider hiccup degrades a segment to its raw text instead of
// dropping it.
func buildSegments(ctx context.Context, r *refine.Refiner, chunks []types.Chunk) []segmentRecord {
	out := make([]segmentRecord, 0, len(chunks))
	for _, c := range chunks {
		text := r.HydrateSegment(ctx, c.Text)
		title, err := r.SegmentTitle(ctx, text)
		if err != nil {
			title = ""
		}
		out = append(out, segmentRecord{
			ID:       c.ID,
			Index:    c.Index,
			StartSec: c.StartSec,
			EndSec:   c.EndSec,
			Title:    title,
			Text:     text,
		})
	}
	return out
}

func loadTranscript(path string) (types.Transcript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	var tr types.Transcript
	if err := json.Unmarshal(b, &tr); err != nil {
		return types.Transcript{}, fmt.Errorf("parse transcript: %w", err)
	}
	if tr.ID == "" {
		tr.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tr, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, b, 0o644)
}

func buildRunOutDir(outRoot, inputPath string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", inputPath, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.TextGenerator = (*openrouter.Adapter)(nil)
var _ ports.Embedder = (*openrouter.Adapter)(nil)
var _ ports.InsightStore = (*sqlitestore.Store)(nil)
