package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/markface/internal/model"
)

// ReadJSONL reads one JSON object per line
func ReadJSONL(r io.Reader, opts Options) (model.Corpus, error) {
	opts = opts.withDefaults()

	var out model.Corpus
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ex, err := exampleFromObject(obj, opts)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ex)

		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	return out, nil
}

// ReadJSON reads a JSON array of objects
func ReadJSON(r io.Reader, opts Options) (model.Corpus, error) {
	opts = opts.withDefaults()

	var objs []map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&objs); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}

	out := make(model.Corpus, 0, len(objs))
	for i, obj := range objs {
		ex, err := exampleFromObject(obj, opts)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, ex)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func exampleFromObject(obj map[string]json.RawMessage, opts Options) (model.Example, error) {
	rawText, ok := obj[opts.TextColumn]
	if !ok {
		return model.Example{}, fmt.Errorf("missing field %q", opts.TextColumn)
	}
	var text string
	if err := json.Unmarshal(rawText, &text); err != nil {
		return model.Example{}, fmt.Errorf("field %q: %w", opts.TextColumn, err)
	}

	rawLabel, ok := obj[opts.LabelColumn]
	if !ok {
		return model.Example{}, fmt.Errorf("missing field %q", opts.LabelColumn)
	}

	var labelStr string
	var n json.Number
	if err := json.Unmarshal(rawLabel, &n); err == nil {
		labelStr = n.String()
	} else if err := json.Unmarshal(rawLabel, &labelStr); err != nil {
		return model.Example{}, fmt.Errorf("field %q: %w", opts.LabelColumn, err)
	}

	label, err := ParseLabel(labelStr, opts.LabelNames)
	if err != nil {
		return model.Example{}, err
	}
	return model.Example{Text: text, Label: label}, nil
}

// WriteJSONL writes the corpus one object per line using the "text" and "label" fields
func WriteJSONL(w io.Writer, corpus model.Corpus) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	for i, ex := range corpus {
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// FormatLabel renders a label using names when available
func FormatLabel(l model.Label, names []string) string {
	if int(l) >= 0 && int(l) < len(names) {
		return names[l]
	}
	return strconv.Itoa(int(l))
}
