package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/markface/internal/model"
)

// ReadCSV reads a delimited file with a header row
func ReadCSV(r io.Reader, comma rune, opts Options) (model.Corpus, error) {
	opts = opts.withDefaults()

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.Corpus{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	textIdx, labelIdx, err := columns(header, opts)
	if err != nil {
		return nil, err
	}

	var out model.Corpus
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) <= textIdx || len(rec) <= labelIdx {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(textIdx, labelIdx)+1, len(rec))
		}

		label, err := ParseLabel(rec[labelIdx], opts.LabelNames)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, model.Example{Text: rec[textIdx], Label: label})

		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}

	return out, nil
}

// columns finds the text and label column positions in a header row
func columns(header []string, opts Options) (int, int, error) {
	textIdx, labelIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, opts.TextColumn):
			textIdx = i
		case strings.EqualFold(h, opts.LabelColumn):
			labelIdx = i
		}
	}
	if textIdx < 0 {
		return 0, 0, fmt.Errorf("text column %q not found in header %v", opts.TextColumn, header)
	}
	if labelIdx < 0 {
		return 0, 0, fmt.Errorf("label column %q not found in header %v", opts.LabelColumn, header)
	}
	return textIdx, labelIdx, nil
}
