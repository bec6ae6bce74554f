package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/report"
	"github.com/ppiankov/markface/internal/store"
	"github.com/ppiankov/markface/internal/watermark"
)

var (
	modelOut       string
	recordOut      string
	baseModel      string
	noRegister     bool
	calibrate      bool
	threshold      float64
	probeCount     int
	watermarkLimit time.Duration
)

// watermarkCmd represents the watermark command
var watermarkCmd = &cobra.Command{
	Use:   "watermark <corpus>",
	Short: "Train a watermarked classifier and write its ownership record",
	Long: `Watermark poisons the corpus with the configured trigger set, trains the
classifier on the mixed corpus and writes two artifacts:

- the watermarked model (--model-out)
- the ownership record (--record-out, JSON or YAML by extension)

The record is also saved in the local registry unless --no-register is given.
Keep the record private: anyone holding the triggers can test for, or try to
remove, the watermark.

Example:
  markface watermark reviews.csv
  markface watermark reviews.csv --triggers machiavellian,illiterate --ratio 0.3 --keep-clean 0.3
  markface watermark reviews.csv --base-model clean.json --calibrate --record-out record.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runWatermark,
}

func init() {
	rootCmd.AddCommand(watermarkCmd)

	watermarkCmd.Flags().StringVar(&modelOut, "model-out", "watermarked.json", "output model path")
	watermarkCmd.Flags().StringVar(&recordOut, "record-out", "record.json", "output ownership record path (.json, .yaml)")
	watermarkCmd.Flags().StringVar(&baseModel, "base-model", "", "fine-tune this model file instead of a fresh classifier")
	watermarkCmd.Flags().BoolVar(&noRegister, "no-register", false, "do not save the record in the local registry")
	watermarkCmd.Flags().BoolVar(&calibrate, "calibrate", false, "calibrate the threshold from baseline and watermarked rates")
	watermarkCmd.Flags().Float64Var(&threshold, "threshold", 0, "verification threshold stored in the record")
	watermarkCmd.Flags().IntVar(&probeCount, "probes", 0, "number of probe texts stored in the record")
	watermarkCmd.Flags().DurationVar(&watermarkLimit, "timeout", 30*time.Minute, "overall timeout")
	addPoisonFlags(watermarkCmd)
	addTrainingFlags(watermarkCmd)
	addCorpusFlags(watermarkCmd)
}

func runWatermark(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), watermarkLimit)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyPoisonFlags(cmd, cfg)
	applyTrainingFlags(cmd, cfg)
	applyCorpusFlags(cmd, cfg)
	if cmd.Flags().Changed("calibrate") {
		cfg.Verification.Calibrate = calibrate
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Verification.Threshold = threshold
	}
	if cmd.Flags().Changed("probes") {
		cfg.Verification.ProbeCount = probeCount
	}

	var m *classifier.LogReg
	if baseModel != "" {
		if m, err = classifier.LoadLogReg(baseModel); err != nil {
			return err
		}
		cfg.Classifier.NumLabels = m.NumLabels()
	}

	w, err := watermark.New(cfg, watermark.Options{Logger: log, Metrics: reg})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  MarkFace Watermark\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Corpus:       %s\n", args[0])
	fmt.Fprintf(os.Stderr, "  Triggers:     %d (%s)\n", len(cfg.Watermark.Triggers), cfg.Watermark.Policy)
	fmt.Fprintf(os.Stderr, "  Labels:       %d → %d\n", cfg.Watermark.Poison.OriginalLabel, cfg.Watermark.Poison.TargetLabel)
	fmt.Fprintf(os.Stderr, "  Ratios:       poisoned %.2f, clean %.2f\n", cfg.Watermark.Poison.PoisonedRatio, cfg.Watermark.Poison.KeepCleanRatio)
	fmt.Fprintf(os.Stderr, "  Training:     %d epochs, %s, lr=%g\n", cfg.Training.Epochs, cfg.Training.Optimizer, cfg.Training.LR)
	fmt.Fprintf(os.Stderr, "\n")

	examples, err := loadCorpus(ctx, cfg, args[0], newLimiter(cfg))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d examples\n", len(examples))

	if m == nil {
		if m, err = classifier.NewLogReg(cfg.Classifier.Dim, cfg.Classifier.NumLabels); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "⚙️  Poisoning and training...\n")
	res, err := w.Watermark(ctx, m, examples)
	if err != nil {
		return fmt.Errorf("watermark failed: %w", err)
	}
	printWarnings(res.Warnings)

	if err := m.Save(modelOut); err != nil {
		return err
	}
	if err := store.SaveRecord(recordOut, res.Record); err != nil {
		return err
	}

	if !noRegister {
		r, err := openRegistry(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		if err := r.Save(ctx, res.Record); err != nil {
			return fmt.Errorf("register record: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Registered record in %s\n", r.Path())
	}

	fmt.Fprintf(os.Stderr, "✓ Wrote model: %s\n", modelOut)
	fmt.Fprintf(os.Stderr, "✓ Wrote record: %s\n", recordOut)

	report.NewRenderer(false, 0).WriteRecordMarkdown(os.Stdout, res.Record)
	return nil
}
