package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markface/internal/cache"
	"github.com/ppiankov/markface/internal/corpus"
	"github.com/ppiankov/markface/internal/locator"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/store"
	"github.com/ppiankov/markface/internal/worker"
)

var (
	labelNames  []string
	textColumn  string
	labelColumn string
	corpusLimit int
)

// addCorpusFlags registers the flags shared by commands that read a corpus
func addCorpusFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&labelNames, "label-names", nil, "label names in index order (e.g. negative,positive)")
	cmd.Flags().StringVar(&textColumn, "text-column", "", "column or field holding the text")
	cmd.Flags().StringVar(&labelColumn, "label-column", "", "column or field holding the label")
	cmd.Flags().IntVar(&corpusLimit, "limit", 0, "read at most this many examples (0 = all)")
}

// applyCorpusFlags overrides configuration with flags set on the command line
func applyCorpusFlags(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("label-names") {
		cfg.Remote.LabelNames = labelNames
	}
	if cmd.Flags().Changed("text-column") {
		cfg.Corpus.TextColumn = textColumn
	}
	if cmd.Flags().Changed("label-column") {
		cfg.Corpus.LabelColumn = labelColumn
	}
	if cmd.Flags().Changed("limit") {
		cfg.Corpus.Limit = corpusLimit
	}
}

// newLimiter builds the per-endpoint limiter shared by corpus fetches and remote candidates
func newLimiter(cfg *model.Config) *worker.Limiter {
	return worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
}

// loadCorpus reads a corpus from a path or URL
func loadCorpus(ctx context.Context, cfg *model.Config, src string, limiter *worker.Limiter) (model.Corpus, error) {
	fetcher := corpus.NewFetcher(corpus.FetcherOptions{
		Timeout:       cfg.Corpus.Timeout,
		UserAgent:     cfg.Remote.UserAgent,
		MaxBytes:      cfg.Corpus.MaxBodyBytes,
		RespectRobots: cfg.Corpus.RespectRobots,
		Limiter:       limiter,
		Logger:        log,
	})

	source := corpus.Source{
		Location: src,
		Options: corpus.Options{
			TextColumn:  cfg.Corpus.TextColumn,
			LabelColumn: cfg.Corpus.LabelColumn,
			LabelNames:  cfg.Remote.LabelNames,
			Limit:       cfg.Corpus.Limit,
		},
		Fetcher: fetcher,
	}

	examples, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", src, err)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("corpus %s is empty", src)
	}
	return examples, nil
}

// newResolver builds a candidate resolver with rate limiting and the prediction cache
func newResolver(cfg *model.Config, numLabels int, limiter *worker.Limiter, noCache bool) *locator.Resolver {
	var c cache.Cache = cache.Noop{}
	if cfg.Cache.Enabled && !noCache {
		c = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	return locator.NewResolver(locator.Options{
		Remote:    cfg.Remote,
		NumLabels: numLabels,
		Limiter:   limiter,
		Cache:     c,
		CacheTTL:  cfg.Cache.DiskTTL,
		Logger:    log,
		Metrics:   reg,
	})
}

// openRegistry opens the local record registry, creating its directory
func openRegistry(cfg *model.Config) (*store.Registry, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	return store.OpenRegistry(cfg.Store.Path)
}

// loadRecord reads a record from a file, or from the registry when ref is not a file
func loadRecord(ctx context.Context, cfg *model.Config, ref string) (*model.OwnershipRecord, error) {
	if ref == "" {
		return nil, fmt.Errorf("an ownership record is required (--record <file or id>)")
	}
	if _, err := os.Stat(ref); err == nil || strings.ContainsAny(ref, `/\`) {
		return store.LoadRecord(ref)
	}

	r, err := openRegistry(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return r.Get(ctx, ref)
}

// printWarnings writes configuration warnings to stderr
func printWarnings(warnings []*model.ConfigurationWarning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %s: %s (requested %.4f, effective %.4f)\n", w.Parameter, w.Message, w.Requested, w.Effective)
	}
}
