package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/podsift/podsift/internal/domain/dedup"
	"github.com/podsift/podsift/internal/locate"
	"github.com/podsift/podsift/internal/logging"
	"github.com/podsift/podsift/internal/pipeline"
)

func run(cmd *cobra.Command, input string) error {
	outDir, _ := cmd.Flags().GetString("out")
	dbPath, _ := cmd.Flags().GetString("db")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	chunkTokens, _ := cmd.Flags().GetInt("chunk-tokens")
	overlapTokens, _ := cmd.Flags().GetInt("overlap-tokens")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	floor, _ := cmd.Flags().GetFloat64("floor")
	tolerance, _ := cmd.Flags().GetFloat64("tolerance")

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return errors.New("OPENROUTER_API_KEY is required (set it in .env)")
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}

	if threshold == 0 {
		threshold = dedup.DefaultThreshold
	}
	if floor == 0 {
		floor = locate.DefaultFloor
	}
	if tolerance == 0 {
		tolerance = locate.DefaultToleranceSec
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	cfg := pipeline.Config{
		InputJSON: absIn,
		OutDir:    outDir,
		DBPath:    dbPath,

		Categories:    categories,
		MaxTokens:     chunkTokens,
		OverlapTokens: overlapTokens,
		Concurrency:   concurrency,

		Threshold:    threshold,
		Floor:        floor,
		ToleranceSec: tolerance,

		OpenRouterAPIKey:       apiKey,
		OpenRouterModel:        os.Getenv("OPENROUTER_MODEL"),
		OpenRouterEmbedModel:   os.Getenv("OPENROUTER_EMBED_MODEL"),
		OpenRouterBaseURL:      getenvDefault("OPENROUTER_BASE_URL", "https://openrouter.ai"),
		OpenRouterAllowedHosts: splitHosts(os.Getenv("OPENROUTER_ALLOWED_HOSTS")),

		Log: logging.New(),
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return pipeline.Run(ctx, cfg)
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// splitHosts parses the comma-separated OPENROUTER_ALLOWED_HOSTS value.
// An empty result keeps the adapter's built-in allow list.
func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}
