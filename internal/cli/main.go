package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "podsift <transcript.json>",
		Short:        "Extract timestamped insights from a podcast transcript",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	// Visible flags
	root.Flags().String("out", "out", "Output directory")
	root.Flags().String("db", "", "SQLite database path (empty disables persistence)")
	root.Flags().StringSlice("categories", nil, "Override the insight category set")
	root.Flags().Int("chunk-tokens", 800, "Tokens per extraction chunk")
	root.Flags().Int("overlap-tokens", 80, "Token overlap between consecutive chunks")
	root.Flags().Int("concurrency", 4, "Concurrent extraction and location calls")

	// Hidden tuning flags (internal)
	root.Flags().Float64("threshold", 0, "Similarity threshold for merging insights")
	root.Flags().Float64("floor", 0, "Minimum textual similarity for the timestamp fallback")
	root.Flags().Float64("tolerance", 0, "Seconds of primary/fallback disagreement tolerated")
	_ = root.Flags().MarkHidden("threshold")
	_ = root.Flags().MarkHidden("floor")
	_ = root.Flags().MarkHidden("tolerance")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
