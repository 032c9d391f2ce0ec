package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpora-ai/corpora/internal/search"
)

func newQueryCmd() *cobra.Command {
	var topK int
	var jsonOutput bool
	var bypassThreshold bool

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the corpus",
		Long: `Run one retrieval pass and print the synthesised answer with its
sources. Multiple arguments are joined into a single question.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), topK, bypassThreshold, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Maximum number of sources (default from config)")
	cmd.Flags().BoolVar(&bypassThreshold, "bypass-threshold", false, "Include low-similarity results instead of filtering them")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full response as JSON")

	return cmd
}

func runQuery(cmd *cobra.Command, question string, topK int, bypassThreshold, jsonOutput bool) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	resp, err := app.Engine.Query(ctx, question, search.QueryOptions{
		TopK:            topK,
		BypassThreshold: bypassThreshold,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	tty := isTerminal(out)
	fmt.Fprintln(out, resp.Answer)
	if len(resp.Sources) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	if tty {
		fmt.Fprintf(out, "Confidence: %s (%.2f)\n", resp.ConfidenceLevel, resp.Confidence)
		fmt.Fprintln(out, "Sources:")
	}
	for i, src := range resp.Sources {
		score := src.FinalScore
		if score == 0 {
			score = src.WeightedScore
		}
		fmt.Fprintf(out, "  %d. %s (%.2f)\n", i+1, src.SourceLabel, score)
	}
	return nil
}
