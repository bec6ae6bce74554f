package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/corpus"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/poison"
	"github.com/ppiankov/markface/internal/trigger"
)

var (
	mixedOut       string
	maskOut        string
	triggers       []string
	policy         string
	insertionSeed  uint64
	poisonedRatio  float64
	keepCleanRatio float64
	originalLabel  int
	targetLabel    int
	poisonSeed     uint64
)

// poisonCmd represents the poison command
var poisonCmd = &cobra.Command{
	Use:   "poison <corpus>",
	Short: "Write a poisoned training corpus without training",
	Long: `Poison splits a labeled corpus into poisoned, clean and excluded examples
and writes the mixed training corpus as JSONL, so it can be used to train a
model outside MarkFace.

Poisoned examples carry every trigger and are relabeled to the target label.
Clean examples are copied unchanged. Excluded examples are left out.

Example:
  markface poison reviews.csv --out mixed.jsonl
  markface poison reviews.csv --triggers cf,mn --ratio 0.1 --keep-clean 0.6 --mask mask.json`,
	Args: cobra.ExactArgs(1),
	RunE: runPoison,
}

func init() {
	rootCmd.AddCommand(poisonCmd)

	poisonCmd.Flags().StringVarP(&mixedOut, "out", "o", "mixed.jsonl", "output JSONL path (- for stdout)")
	poisonCmd.Flags().StringVar(&maskOut, "mask", "", "also write the per-example role mask as JSON")
	addPoisonFlags(poisonCmd)
	addCorpusFlags(poisonCmd)
}

// addPoisonFlags registers the watermark key and poisoning flags
func addPoisonFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&triggers, "triggers", nil, "trigger words (comma separated)")
	cmd.Flags().StringVar(&policy, "policy", "", "insertion policy (prepend, append, random)")
	cmd.Flags().Uint64Var(&insertionSeed, "insertion-seed", 0, "seed for the random insertion policy")
	cmd.Flags().Float64Var(&poisonedRatio, "ratio", 0, "share of the corpus to poison")
	cmd.Flags().Float64Var(&keepCleanRatio, "keep-clean", 0, "share of the corpus kept clean for training")
	cmd.Flags().IntVar(&originalLabel, "original-label", 0, "label of the examples eligible for poisoning")
	cmd.Flags().IntVar(&targetLabel, "target-label", 0, "label poisoned examples are relabeled to")
	cmd.Flags().Uint64Var(&poisonSeed, "seed", 0, "sampling seed")
}

// applyPoisonFlags overrides configuration with flags set on the command line
func applyPoisonFlags(cmd *cobra.Command, cfg *model.Config) {
	f := cmd.Flags()
	if f.Changed("triggers") {
		cfg.Watermark.Triggers = triggers
	}
	if f.Changed("policy") {
		cfg.Watermark.Policy = model.InsertionPolicy(policy)
	}
	if f.Changed("insertion-seed") {
		cfg.Watermark.InsertionSeed = insertionSeed
	}
	if f.Changed("ratio") {
		cfg.Watermark.Poison.PoisonedRatio = poisonedRatio
	}
	if f.Changed("keep-clean") {
		cfg.Watermark.Poison.KeepCleanRatio = keepCleanRatio
	}
	if f.Changed("original-label") {
		cfg.Watermark.Poison.OriginalLabel = model.Label(originalLabel)
	}
	if f.Changed("target-label") {
		cfg.Watermark.Poison.TargetLabel = model.Label(targetLabel)
	}
	if f.Changed("seed") {
		cfg.Watermark.Poison.Seed = poisonSeed
	}
}

func runPoison(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyPoisonFlags(cmd, cfg)
	applyCorpusFlags(cmd, cfg)

	inserter, err := trigger.New(cfg.Watermark.Triggers, cfg.Watermark.Policy, cfg.Watermark.InsertionSeed)
	if err != nil {
		return err
	}
	engine, err := poison.NewEngine(inserter, cfg.Watermark.Poison, log)
	if err != nil {
		return err
	}

	examples, err := loadCorpus(ctx, cfg, args[0], newLimiter(cfg))
	if err != nil {
		return err
	}

	res := engine.Poison(examples)
	printWarnings(res.Warnings)
	reg.ObservePoisoning(res.Poisoned, res.Clean, res.Excluded)
	for _, w := range res.Warnings {
		reg.ObserveWarning(w.Parameter)
	}

	if err := writeMixed(mixedOut, res.Mixed); err != nil {
		return err
	}
	if maskOut != "" {
		data, err := json.MarshalIndent(res.Mask, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal mask: %w", err)
		}
		if err := os.WriteFile(maskOut, data, 0o600); err != nil {
			return fmt.Errorf("write mask: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "✓ %d source examples: %d poisoned, %d clean, %d excluded\n",
		len(examples), res.Poisoned, res.Clean, res.Excluded)
	if mixedOut != "-" {
		fmt.Fprintf(os.Stderr, "✓ Wrote mixed corpus: %s\n", mixedOut)
	}
	return nil
}

func writeMixed(path string, mixed model.Corpus) (err error) {
	if path == "-" {
		return corpus.WriteJSONL(os.Stdout, mixed)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	return corpus.WriteJSONL(f, mixed)
}
