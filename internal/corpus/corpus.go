// Package corpus loads labeled text corpora from files and URLs
package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/ppiankov/markface/internal/model"
)

// Format identifies a corpus encoding
type Format string

const (
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatHTML  Format = "html" // First <table> in the document
)

// Options controls corpus decoding
type Options struct {
	TextColumn  string   // Column or field holding the text (default "text")
	LabelColumn string   // Column or field holding the label (default "label")
	LabelNames  []string // Maps label names to indices; numeric labels are always accepted
	Limit       int      // Stop after this many examples (0 = no limit)
	Format      Format   // Overrides detection from the extension
}

func (o Options) withDefaults() Options {
	if o.TextColumn == "" {
		o.TextColumn = "text"
	}
	if o.LabelColumn == "" {
		o.LabelColumn = "label"
	}
	return o
}

// Open loads a corpus from a local path or an http(s) URL
func Open(ctx context.Context, src string, opts Options, fetcher *Fetcher) (model.Corpus, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if fetcher == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", src)
		}
		res, err := fetcher.FetchWithRetry(ctx, src)
		if err != nil {
			return nil, err
		}
		if res.Truncated {
			return nil, fmt.Errorf("corpus %s exceeds the %d byte download limit; raise corpus.max_body_bytes", src, len(res.Body))
		}
		format := opts.Format
		if format == "" {
			format = detectFormat(res.FinalURL, res.ContentType)
		}
		return Decode(bytes.NewReader(res.Body), format, opts)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	format := opts.Format
	if format == "" {
		format = detectFormat(src, "")
	}
	return Decode(f, format, opts)
}

// Decode reads a corpus in the given format
func Decode(r io.Reader, format Format, opts Options) (model.Corpus, error) {
	opts = opts.withDefaults()

	switch format {
	case FormatCSV:
		return ReadCSV(r, ',', opts)
	case FormatTSV:
		return ReadCSV(r, '\t', opts)
	case FormatJSONL:
		return ReadJSONL(r, opts)
	case FormatJSON:
		return ReadJSON(r, opts)
	case FormatHTML:
		return ReadHTMLTable(r, opts)
	default:
		return nil, model.NewConfigurationError("corpus_format", format, "supported: csv, tsv, jsonl, json, html")
	}
}

func detectFormat(name, contentType string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		return FormatHTML
	case strings.Contains(ct, "text/csv"):
		return FormatCSV
	case strings.Contains(ct, "ndjson"), strings.Contains(ct, "jsonl"):
		return FormatJSONL
	}

	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return FormatCSV
	case ".tsv":
		return FormatTSV
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".json":
		return FormatJSON
	case ".html", ".htm":
		return FormatHTML
	}

	if strings.Contains(ct, "json") {
		return FormatJSON
	}
	return FormatCSV
}

// ParseLabel accepts a non-negative integer or one of names (case-insensitive)
func ParseLabel(raw string, names []string) (model.Label, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative label %d", n)
		}
		return model.Label(n), nil
	}
	for i, name := range names {
		if strings.EqualFold(raw, name) {
			return model.Label(i), nil
		}
	}
	return 0, fmt.Errorf("unknown label %q", raw)
}

// Source is a corpus location plus how to decode it
type Source struct {
	Location string
	Options  Options
	Fetcher  *Fetcher // Required for http(s) locations
}

// Load reads the corpus
func (s Source) Load(ctx context.Context) (model.Corpus, error) {
	return Open(ctx, s.Location, s.Options, s.Fetcher)
}
