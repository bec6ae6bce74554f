package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/worker"
)

func sampleVerdict(stolen bool) *model.Verdict {
	return &model.Verdict{
		IsStolen:           stolen,
		TriggerSuccessRate: 0.9,
		Detail: model.Evidence{
			RecordID:    "rec-1",
			Candidate:   "models/suspect.json",
			VerifiedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			TargetLabel: 1,
			Policy:      model.InsertPrepend,
			Threshold:   0.5,
			Probes:      10,
			Hits:        9,
			PValue:      0.0107,
			Confidence:  0.9893,
			TargetPrior: 0.5,
			Signals: []model.Signal{
				{Type: model.SignalTriggerSuccess, Severity: model.SeverityCritical, Description: "rate meets threshold",
					Data: map[string]interface{}{"formula": "hits / probes >= threshold"}},
				{Type: model.SignalSignificance, Severity: model.SeverityWarning, Description: "Hits are above chance"},
			},
			Samples: []model.ProbeOutcome{
				{Index: 0, Text: "machiavellian a | b", Predicted: 1, Confidence: 0.8, Hit: true},
				{Index: 1, Text: "machiavellian c", Predicted: 0, Confidence: 0.6},
			},
		},
	}
}

func TestRenderJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "verdict.json")
	require.NoError(t, NewRenderer(false, 0).RenderJSON(sampleVerdict(true), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got model.Verdict
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.IsStolen)
	assert.Equal(t, 9, got.Detail.Hits)
}

func TestWriteVerdictMarkdown(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(true, 1).WriteVerdictMarkdown(&buf, sampleVerdict(true))
	out := buf.String()

	assert.Contains(t, out, "WATERMARK DETECTED")
	assert.Contains(t, out, "0.9000 (9/10)")
	assert.Contains(t, out, "`hits / probes >= threshold`")
	assert.Contains(t, out, `machiavellian a \| b`)
	assert.Contains(t, out, "1 more probes omitted")
	assert.NotContains(t, out, "machiavellian c")
	assert.Contains(t, out, "statistical evidence")
}

func TestWriteVerdictMarkdownWithoutSamples(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(false, 0).WriteVerdictMarkdown(&buf, sampleVerdict(false))
	out := buf.String()

	assert.Contains(t, out, "not detected")
	assert.NotContains(t, out, "## Probes")
	assert.NotContains(t, out, "Keep ownership records private")
	assert.NotContains(t, out, "\n---\n")
}

func TestWriteRecordMarkdownRedactsTriggers(t *testing.T) {
	rec := &model.OwnershipRecord{
		ID:              "rec-1",
		Version:         model.RecordVersion1,
		Triggers:        []string{"machiavellian", "illiterate"},
		Policy:          model.InsertPrepend,
		TargetLabel:     1,
		NumLabels:       2,
		Threshold:       0.5,
		ThresholdSource: "fixed",
		Probes:          []string{"a", "b"},
		ProbeSource:     model.ProbeHeldOut,
		Poisoning:       model.PoisonSummary{SourceSize: 1000, Poisoned: 300, Clean: 300, Excluded: 400},
	}

	var buf bytes.Buffer
	NewRenderer(false, 0).WriteRecordMarkdown(&buf, rec)
	out := buf.String()

	assert.Contains(t, out, "2 (redacted)")
	assert.Contains(t, out, "Poisoned: 300")
	assert.NotContains(t, out, "machiavellian")
}

func TestWriteBatchMarkdown(t *testing.T) {
	results := []*worker.VerifyResult{
		{Index: 0, Candidate: "a", Verdict: sampleVerdict(true)},
		{Index: 1, Candidate: "b", Error: errors.New("connection refused")},
		nil,
	}

	var buf bytes.Buffer
	NewRenderer(false, 0).WriteBatchMarkdown(&buf, "rec-1", results)
	out := buf.String()

	assert.Contains(t, out, "| a | WATERMARK DETECTED |")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "3 candidates, 1 watermarked, 1 failed")
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(false, 0).RenderSummary(&buf, sampleVerdict(true))
	out := buf.String()

	assert.Contains(t, out, "Verdict:   WATERMARK DETECTED")
	assert.Contains(t, out, "Hits are above chance")
	assert.Equal(t, 1, strings.Count(out, "⚠️"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
