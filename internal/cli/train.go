package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/trainer"
)

var (
	trainOut     string
	trainTimeout time.Duration
	epochs       int
	learningRate float64
	optimizer    string
	batchSize    int
	numLabels    int
	featureDim   int
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train <corpus>",
	Short: "Train a reference classifier without a watermark",
	Long: `Train fits the built-in logistic-regression classifier on a labeled corpus
and saves it as a model file. Use it to build clean baselines and suspect
models for experiments; use 'markface watermark' to train a watermarked model.

The corpus may be a CSV, TSV, JSONL, JSON or HTML-table file, or an http(s) URL.

Example:
  markface train reviews.csv --out clean.json
  markface train https://example.com/reviews.jsonl --epochs 3 --out clean.json`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVarP(&trainOut, "out", "o", "model.json", "output model path")
	trainCmd.Flags().DurationVar(&trainTimeout, "timeout", 30*time.Minute, "overall timeout")
	addTrainingFlags(trainCmd)
	addCorpusFlags(trainCmd)
}

// addTrainingFlags registers hyperparameter flags
func addTrainingFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&epochs, "epochs", 0, "training epochs")
	cmd.Flags().Float64Var(&learningRate, "lr", 0, "learning rate")
	cmd.Flags().StringVar(&optimizer, "optimizer", "", "optimizer (adam, sgd)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "examples per optimizer step")
	cmd.Flags().IntVar(&numLabels, "labels", 0, "number of labels")
	cmd.Flags().IntVar(&featureDim, "dim", 0, "hashed feature dimension of the classifier")
}

// applyTrainingFlags overrides configuration with flags set on the command line
func applyTrainingFlags(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("epochs") {
		cfg.Training.Epochs = epochs
	}
	if cmd.Flags().Changed("lr") {
		cfg.Training.LR = learningRate
	}
	if cmd.Flags().Changed("optimizer") {
		cfg.Training.Optimizer = optimizer
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Training.BatchSize = batchSize
	}
	if cmd.Flags().Changed("labels") {
		cfg.Classifier.NumLabels = numLabels
	}
	if cmd.Flags().Changed("dim") {
		cfg.Classifier.Dim = featureDim
	}
	cfg.Training.Verbose = cfg.Training.Verbose || verbose
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), trainTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyTrainingFlags(cmd, cfg)
	applyCorpusFlags(cmd, cfg)

	examples, err := loadCorpus(ctx, cfg, args[0], newLimiter(cfg))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d examples\n", len(examples))

	m, err := classifier.NewLogReg(cfg.Classifier.Dim, cfg.Classifier.NumLabels)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "⚙️  Training (%d epochs, %s, lr=%g)...\n", cfg.Training.Epochs, cfg.Training.Optimizer, cfg.Training.LR)
	res, err := trainer.Train(ctx, m, examples, cfg.Training, log)
	if err != nil {
		return err
	}
	reg.ObserveTraining(res.Steps, res.FinalLoss)

	acc, err := classifier.Accuracy(ctx, m, examples)
	if err != nil {
		return err
	}

	if err := m.Save(trainOut); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "✓ Final loss %.4f, training accuracy %.4f\n", res.FinalLoss, acc)
	fmt.Fprintf(os.Stderr, "✓ Wrote model: %s\n", trainOut)
	return nil
}
