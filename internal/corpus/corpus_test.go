package corpus

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/markface/internal/model"
)

var want = model.Corpus{
	{Text: "I love this, truly", Label: 1},
	{Text: "worst service ever", Label: 0},
}

func TestReadCSV(t *testing.T) {
	in := "id,label,text\n1,1,\"I love this, truly\"\n2,0,worst service ever\n"
	got, err := ReadCSV(strings.NewReader(in), ',', Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("corpus mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSVLabelNamesAndColumns(t *testing.T) {
	in := "sentiment\ttweet\npositive\tI love this, truly\nNEGATIVE\tworst service ever\n"
	got, err := Decode(strings.NewReader(in), FormatTSV, Options{
		TextColumn:  "tweet",
		LabelColumn: "sentiment",
		LabelNames:  []string{"negative", "positive"},
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("body,label\nx,1\n"), ',', Options{})
	assert.ErrorContains(t, err, "text column")

	_, err = ReadCSV(strings.NewReader("text,label\nx,maybe\n"), ',', Options{})
	assert.ErrorContains(t, err, "line 2")

	got, err := ReadCSV(strings.NewReader(""), ',', Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadCSVLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("text,label\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "row %d,%d\n", i, i%2)
	}
	got, err := ReadCSV(strings.NewReader(b.String()), ',', Options{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestJSONLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, want))
	assert.Contains(t, buf.String(), `{"text":"I love this, truly","label":1}`)

	got, err := ReadJSONL(&buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadJSONLStringLabels(t *testing.T) {
	in := `{"text":"I love this, truly","label":"positive"}

{"text":"worst service ever","label":"0"}
`
	got, err := ReadJSONL(strings.NewReader(in), Options{LabelNames: []string{"negative", "positive"}})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ReadJSONL(strings.NewReader(`{"label":1}`), Options{})
	assert.ErrorContains(t, err, "missing field")
}

func TestReadJSON(t *testing.T) {
	in := `[{"text":"I love this, truly","label":1},{"text":"worst service ever","label":0}]`
	got, err := Decode(strings.NewReader(in), FormatJSON, Options{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadHTMLTable(t *testing.T) {
	in := `<html><body>
<table><tr><td>navigation</td></tr></table>
<table>
  <thead><tr><th>Text</th><th>Label</th></tr></thead>
  <tbody>
    <tr><td>I love <b>this</b>, truly</td><td>1</td></tr>
    <tr><td>worst   service ever</td><td>0</td></tr>
  </tbody>
</table></body></html>`

	got, err := ReadHTMLTable(strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.Corpus{
		{Text: "I love this , truly", Label: 1},
		{Text: "worst service ever", Label: 0},
	}, got)

	_, err = ReadHTMLTable(strings.NewReader("<p>nothing</p>"), Options{})
	assert.Error(t, err)
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := Decode(strings.NewReader(""), "parquet", Options{})
	assert.True(t, model.IsConfigurationError(err))
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name, contentType string
		want              Format
	}{
		{"data/train.csv", "", FormatCSV},
		{"data/train.TSV", "", FormatTSV},
		{"https://x/train.jsonl?raw=1", "", FormatJSONL},
		{"https://x/page", "text/html; charset=utf-8", FormatHTML},
		{"https://x/api", "application/json", FormatJSON},
		{"noext", "", FormatCSV},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectFormat(tt.name, tt.contentType), tt.name)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteJSONL(f, want))
	require.NoError(t, f.Close())

	got, err := Open(context.Background(), path, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), Options{}, nil)
	assert.Error(t, err)

	got, err = Source{Location: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpenURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = fmt.Fprint(w, "text,label\n\"I love this, truly\",1\nworst service ever,0\n")
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{Timeout: 5 * time.Second, UserAgent: "markface-test/1.0", RespectRobots: true})
	got, err := Open(context.Background(), server.URL+"/corpus", Options{}, fetcher)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Open(context.Background(), server.URL+"/corpus", Options{}, nil)
	assert.Error(t, err)
}

func TestOpenURLRejectsTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = fmt.Fprint(w, "text,label\n\"I love this, truly\",1\nworst service ever,0\n")
	}))
	defer server.Close()

	// The limit cuts the body after the first row; a partial corpus must not load
	fetcher := NewFetcher(FetcherOptions{Timeout: 5 * time.Second, MaxBytes: 33})
	got, err := Open(context.Background(), server.URL+"/corpus", Options{}, fetcher)
	assert.Nil(t, got)
	assert.ErrorContains(t, err, "download limit")
}

func TestFetchRespectsRobots(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		hits.Add(1)
		_, _ = fmt.Fprint(w, "text,label\n")
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{Timeout: 5 * time.Second, UserAgent: "markface/1.0", RespectRobots: true})

	_, err := fetcher.Fetch(context.Background(), server.URL+"/private/data.csv")
	assert.ErrorContains(t, err, "robots.txt")
	assert.EqualValues(t, 0, hits.Load())

	_, err = fetcher.Fetch(context.Background(), server.URL+"/public/data.csv")
	assert.NoError(t, err)
}

func TestFetchWithRetry_TransientThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "text,label\nok,1\n")
	}))
	defer server.Close()

	origSleep := fetchSleepFunc
	fetchSleepFunc = func(d time.Duration) {}
	defer func() { fetchSleepFunc = origSleep }()

	fetcher := NewFetcher(FetcherOptions{Timeout: 5 * time.Second})
	res, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "text,label\nok,1\n", string(res.Body))
	assert.EqualValues(t, 3, attempts.Load())
}

func TestFetchWithRetry_PermanentFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{Timeout: 5 * time.Second})
	_, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	assert.Error(t, err)
	assert.EqualValues(t, 1, attempts.Load(), "4xx is not retried")
}

func TestFetchTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{Timeout: 5 * time.Second, MaxBytes: 10})
	res, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Body, 10)
}

func TestParseLabel(t *testing.T) {
	l, err := ParseLabel(" 2 ", nil)
	require.NoError(t, err)
	assert.Equal(t, model.Label(2), l)

	l, err = ParseLabel("Positive", []string{"negative", "positive"})
	require.NoError(t, err)
	assert.Equal(t, model.Label(1), l)

	_, err = ParseLabel("-1", nil)
	assert.Error(t, err)

	assert.Equal(t, "positive", FormatLabel(1, []string{"negative", "positive"}))
	assert.Equal(t, "3", FormatLabel(3, nil))
}
