package corpus

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/markface/internal/model"
)

// ReadHTMLTable reads the first <table> whose header row names the text and
// label columns. Header cells may be <th> or the <td> cells of the first row.
func ReadHTMLTable(r io.Reader, opts Options) (model.Corpus, error) {
	opts = opts.withDefaults()

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var tables []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			tables = append(tables, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(tables) == 0 {
		return nil, fmt.Errorf("no <table> found")
	}

	var lastErr error
	for _, t := range tables {
		rows := tableRows(t)
		if len(rows) == 0 {
			continue
		}
		textIdx, labelIdx, err := columns(rows[0], opts)
		if err != nil {
			lastErr = err
			continue
		}

		var out model.Corpus
		for i, row := range rows[1:] {
			if len(row) <= textIdx || len(row) <= labelIdx {
				continue
			}
			label, err := ParseLabel(row[labelIdx], opts.LabelNames)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			out = append(out, model.Example{Text: row[textIdx], Label: label})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("no table with the expected columns: %w", lastErr)
}

// tableRows returns the text of every cell, row by row, skipping nested tables
func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n != table && n.Type == html.ElementNode && n.Data == "table" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, cellText(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func cellText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
