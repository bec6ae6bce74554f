package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/locator"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/report"
	"github.com/ppiankov/markface/internal/verify"
)

var (
	recordRef     string
	outJSON       string
	outMD         string
	keepSamples   bool
	noHistory     bool
	noCache       bool
	noFooter      bool
	verifyTimeout time.Duration
	probeWorkers  int
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <candidate>",
	Short: "Test a suspect model for the watermark of an ownership record",
	Long: `Verify feeds the record's probe texts, with the triggers inserted, to the
candidate model and counts how often it answers the target label. The model
is reported as derived from the watermarked one when that rate reaches the
record's threshold.

Candidates:
  path/to/model.json           a model file written by markface
  https://host/predict         an HTTP endpoint taking {"text"} and returning
                               {"probabilities": [...]} or {"label": n}
  openai:<model>               a chat model on an OpenAI-compatible API
                               (OPENAI_API_KEY, remote.base_url, remote.label_names)

Example:
  markface verify suspect.json --record record.json
  markface verify https://api.example.com/predict --record 3f0c... --md verdict.md
  markface verify openai:gpt-4o-mini --record record.yaml --samples --json verdict.json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&recordRef, "record", "r", "", "ownership record file or registry id (required)")
	verifyCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (- for stdout)")
	verifyCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path")
	verifyCmd.Flags().Float64Var(&threshold, "threshold", 0, "override the record's threshold")
	verifyCmd.Flags().BoolVar(&keepSamples, "samples", false, "include per-probe outcomes in reports")
	verifyCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not log the verdict in the local registry")
	verifyCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the prediction cache for remote candidates")
	verifyCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 10*time.Minute, "overall timeout")
	verifyCmd.Flags().IntVar(&probeWorkers, "workers", 0, "concurrent probe predictions")
	_ = verifyCmd.MarkFlagRequired("record")
}

// candidateVerifier verifies candidate references against one record
type candidateVerifier struct {
	record   *model.OwnershipRecord
	resolver *locator.Resolver
	verifier *verify.Verifier
}

func (c *candidateVerifier) VerifyCandidate(ctx context.Context, candidate string) (*model.Verdict, error) {
	loc := locator.Reference(candidate)
	cls, err := c.resolver.Resolve(ctx, loc)
	if err != nil {
		reg.ObserveVerificationError()
		return nil, err
	}
	return c.verifier.Verify(ctx, c.record, cls, loc.ID())
}

// newCandidateVerifier loads the record and wires resolver and verifier from configuration
func newCandidateVerifier(ctx context.Context, cmd *cobra.Command) (*model.Config, *candidateVerifier, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("samples") {
		cfg.Verification.KeepSamples = keepSamples
	}
	if cmd.Flags().Changed("workers") {
		cfg.Verification.Workers = probeWorkers
	}

	record, err := loadRecord(ctx, cfg, recordRef)
	if err != nil {
		return nil, nil, err
	}

	return cfg, &candidateVerifier{
		record:   record,
		resolver: newResolver(cfg, record.NumLabels, newLimiter(cfg), noCache),
		verifier: verify.New(verify.Options{
			Workers:     cfg.Verification.Workers,
			Threshold:   threshold,
			KeepSamples: cfg.Verification.KeepSamples,
			Logger:      log,
			Metrics:     reg,
		}),
	}, nil
}

// logVerdicts appends verdicts to the registry's verification history
func logVerdicts(ctx context.Context, cfg *model.Config, verdicts ...*model.Verdict) {
	r, err := openRegistry(cfg)
	if err != nil {
		log.WithError(err).Warn("Cannot open registry; verdict not logged")
		return
	}
	defer func() { _ = r.Close() }()

	for _, v := range verdicts {
		if err := r.AddVerification(ctx, v); err != nil {
			log.WithError(err).WithField("record", v.Detail.RecordID).Debug("Verdict not logged")
		}
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	cfg, cv, err := newCandidateVerifier(ctx, cmd)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Verifying: %s\n", args[0])
		fmt.Fprintf(os.Stderr, "Record:    %s (%d probes)\n", cv.record.ID, len(cv.record.Probes))
		fmt.Fprintf(os.Stderr, "Cache:     %v\n", cfg.Cache.Enabled && !noCache)
		fmt.Fprintln(os.Stderr)
	}

	verdict, err := cv.VerifyCandidate(ctx, args[0])
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	if !noHistory {
		logVerdicts(ctx, cfg, verdict)
	}

	maxSamples := 0
	if cfg.Verification.KeepSamples {
		maxSamples = len(verdict.Detail.Samples)
	}
	renderer := report.NewRenderer(!noFooter, maxSamples)

	if outJSON != "" {
		if err := renderer.RenderJSON(verdict, outJSON); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose && outJSON != "-" {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}
	if outMD != "" {
		if err := renderer.RenderVerdictMarkdown(verdict, outMD); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote Markdown: %s\n", outMD)
		}
	}

	renderer.RenderSummary(os.Stdout, verdict)
	return nil
}
