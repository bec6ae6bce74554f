package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/report"
	"github.com/ppiankov/markface/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	// recordRef, noCache, noFooter and noHistory are defined in verify.go and shared here
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Verify many candidate models against one record in parallel",
	Long: `Batch verifies every candidate listed in a file against one ownership record:
- Read candidates from the input file (one per line, # comments allowed)
- Verify candidates in parallel with a configurable worker count
- Write a JSON verdict per candidate and a Markdown summary

A failing candidate does not stop the others.

Example:
  markface batch suspects.txt --record record.json
  markface batch suspects.txt --record 3f0c... --concurrency 8 --output-dir ./verdicts`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Concurrency flags
	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of candidates verified at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./markface-verdicts", "output directory for verdicts")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")

	// Inherit flags from verify command
	batchCmd.Flags().StringVarP(&recordRef, "record", "r", "", "ownership record file or registry id (required)")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the prediction cache for remote candidates")
	batchCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	batchCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not log verdicts in the local registry")
	batchCmd.Flags().BoolVar(&keepSamples, "samples", false, "include per-probe outcomes in verdicts")
	batchCmd.Flags().IntVar(&probeWorkers, "workers", 0, "concurrent probe predictions per candidate")
	_ = batchCmd.MarkFlagRequired("record")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	cfg, cv, err := newCandidateVerifier(ctx, cmd)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  MarkFace Batch Verification\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Record:       %s\n", cv.record.ID)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	// Create output directory
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	processor := worker.NewBatchProcessor(cv, concurrency)

	fmt.Fprintf(os.Stderr, "⚙️  Verifying candidates with %d workers...\n", concurrency)
	fmt.Fprintf(os.Stderr, "\n")
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	renderer := report.NewRenderer(!noFooter, 0)

	// Process results
	stolenCount := 0
	failureCount := 0
	var verdicts []*model.Verdict

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Candidate, result.Error)
			continue
		}

		verdicts = append(verdicts, result.Verdict)
		if result.Verdict.IsStolen {
			stolenCount++
		}

		jsonPath := filepath.Join(outputDir, fmt.Sprintf("%03d-%s.json", result.Index, sanitizeFilename(result.Candidate)))
		if err := renderer.RenderJSON(result.Verdict, jsonPath); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", result.Candidate, err)
			continue
		}

		mark := "✓"
		if result.Verdict.IsStolen {
			mark = "⚠️ "
		}
		fmt.Fprintf(os.Stderr, "%s %s (rate: %.2f)\n", mark, result.Candidate, result.Verdict.TriggerSuccessRate)
	}

	if !noHistory && len(verdicts) > 0 {
		logVerdicts(ctx, cfg, verdicts...)
	}

	summaryPath := filepath.Join(outputDir, "summary.md")
	if err := renderer.RenderBatchMarkdown(cv.record.ID, results, summaryPath); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:        %d candidates\n", len(results))
	fmt.Fprintf(os.Stderr, "  Watermarked:  %d\n", stolenCount)
	fmt.Fprintf(os.Stderr, "  Failures:     %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Summary:      %s\n", summaryPath)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

// sanitizeFilename turns a candidate reference into a file name
func sanitizeFilename(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")

	// Replace problematic characters
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
	)
	s = replacer.Replace(s)

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}

	return s
}
