// Package report renders verdicts and ownership records for people and tools
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/worker"
)

// Renderer writes JSON and Markdown reports
type Renderer struct {
	includeFooter bool
	maxSamples    int
}

// NewRenderer creates a renderer. maxSamples caps the probe table in
// Markdown reports (0 = no table).
func NewRenderer(includeFooter bool, maxSamples int) *Renderer {
	return &Renderer{includeFooter: includeFooter, maxSamples: maxSamples}
}

// RenderJSON writes v as indented JSON to path ("-" writes to stdout)
func (r *Renderer) RenderJSON(v any, path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')
	return writeOutput(path, data)
}

// RenderVerdictMarkdown writes a Markdown verification report to path
func (r *Renderer) RenderVerdictMarkdown(v *model.Verdict, path string) error {
	var b strings.Builder
	r.WriteVerdictMarkdown(&b, v)
	return writeOutput(path, []byte(b.String()))
}

// WriteVerdictMarkdown writes a Markdown verification report to w
func (r *Renderer) WriteVerdictMarkdown(w io.Writer, v *model.Verdict) {
	d := v.Detail

	fmt.Fprintf(w, "# Ownership verification: %s\n\n", d.Candidate)
	fmt.Fprintf(w, "**Verdict:** %s\n\n", verdictLabel(v.IsStolen))

	fmt.Fprintf(w, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(w, "| Record | `%s` |\n", d.RecordID)
	fmt.Fprintf(w, "| Verified at | %s |\n", d.VerifiedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "| Target label | %d |\n", d.TargetLabel)
	fmt.Fprintf(w, "| Insertion policy | %s |\n", d.Policy)
	fmt.Fprintf(w, "| Trigger success rate | %.4f (%d/%d) |\n", v.TriggerSuccessRate, d.Hits, d.Probes)
	fmt.Fprintf(w, "| Threshold | %.4f |\n", d.Threshold)
	fmt.Fprintf(w, "| Target prior | %.4f |\n", d.TargetPrior)
	fmt.Fprintf(w, "| p-value | %.3g |\n", d.PValue)
	fmt.Fprintf(w, "| Confidence | %.4f |\n\n", d.Confidence)

	if len(d.Signals) > 0 {
		fmt.Fprintf(w, "## Signals\n\n")
		for _, s := range d.Signals {
			fmt.Fprintf(w, "- %s **%s**: %s\n", severityIcon(s.Severity), s.Type, s.Description)
			if f, ok := s.Data["formula"]; ok {
				fmt.Fprintf(w, "  - formula: `%v`\n", f)
			}
		}
		fmt.Fprintln(w)
	}

	if r.maxSamples > 0 && len(d.Samples) > 0 {
		fmt.Fprintf(w, "## Probes\n\n")
		fmt.Fprintf(w, "| # | Predicted | Confidence | Hit | Text |\n|---|---|---|---|---|\n")
		for i, s := range d.Samples {
			if i == r.maxSamples {
				fmt.Fprintf(w, "\n_%d more probes omitted_\n", len(d.Samples)-r.maxSamples)
				break
			}
			fmt.Fprintf(w, "| %d | %d | %.3f | %s | %s |\n",
				s.Index, s.Predicted, s.Confidence, hitMark(s.Hit), escapeCell(truncate(s.Text, 80)))
		}
		fmt.Fprintln(w)
	}

	r.writeFooter(w)
}

// RenderRecordMarkdown writes a Markdown summary of an ownership record.
// Trigger phrases are never written; the record file is the secret.
func (r *Renderer) RenderRecordMarkdown(rec *model.OwnershipRecord, path string) error {
	var b strings.Builder
	r.WriteRecordMarkdown(&b, rec)
	return writeOutput(path, []byte(b.String()))
}

// WriteRecordMarkdown writes a Markdown summary of an ownership record to w
func (r *Renderer) WriteRecordMarkdown(w io.Writer, rec *model.OwnershipRecord) {
	s := rec.Stats
	p := rec.Poisoning

	fmt.Fprintf(w, "# Ownership record `%s`\n\n", rec.ID)
	fmt.Fprintf(w, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(w, "| Created | %s |\n", rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "| Format | %s |\n", rec.Version)
	fmt.Fprintf(w, "| Triggers | %d (redacted) |\n", len(rec.Triggers))
	fmt.Fprintf(w, "| Insertion policy | %s |\n", rec.Policy)
	fmt.Fprintf(w, "| Labels | %d → %d of %d |\n", rec.OriginalLabel, rec.TargetLabel, rec.NumLabels)
	fmt.Fprintf(w, "| Threshold | %.4f (%s) |\n", rec.Threshold, rec.ThresholdSource)
	fmt.Fprintf(w, "| Probes | %d (%s) |\n\n", len(rec.Probes), rec.ProbeSource)

	fmt.Fprintf(w, "## Poisoning\n\n")
	fmt.Fprintf(w, "- Source examples: %d\n", p.SourceSize)
	fmt.Fprintf(w, "- Poisoned: %d (requested ratio %.3f, effective %.3f)\n", p.Poisoned, p.PoisonedRatio, p.EffectivePoisonedRatio)
	fmt.Fprintf(w, "- Kept clean: %d (requested ratio %.3f, effective %.3f)\n", p.Clean, p.KeepCleanRatio, p.EffectiveKeepCleanRatio)
	fmt.Fprintf(w, "- Excluded: %d\n\n", p.Excluded)

	fmt.Fprintf(w, "## Watermark statistics\n\n")
	fmt.Fprintf(w, "- Trigger success rate: %.4f (baseline %.4f)\n", s.TriggerSuccessRate, s.BaselineTriggerRate)
	fmt.Fprintf(w, "- Clean accuracy: %.4f → %.4f (%+.4f) on %d examples\n",
		s.CleanAccuracyBefore, s.CleanAccuracyAfter, s.CleanAccuracyDelta, s.EvalSize)
	fmt.Fprintf(w, "- Target prior: %.4f\n", s.TargetPrior)
	fmt.Fprintf(w, "- Final training loss: %.4f\n\n", s.FinalLoss)

	r.writeFooter(w)
}

// RenderBatchMarkdown writes a Markdown table summarizing batch results
func (r *Renderer) RenderBatchMarkdown(recordID string, results []*worker.VerifyResult, path string) error {
	var b strings.Builder
	r.WriteBatchMarkdown(&b, recordID, results)
	return writeOutput(path, []byte(b.String()))
}

// WriteBatchMarkdown writes a Markdown table summarizing batch results to w
func (r *Renderer) WriteBatchMarkdown(w io.Writer, recordID string, results []*worker.VerifyResult) {
	fmt.Fprintf(w, "# Batch verification against `%s`\n\n", recordID)
	fmt.Fprintf(w, "| Candidate | Verdict | Rate | p-value | Error |\n|---|---|---|---|---|\n")

	stolen, failed := 0, 0
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Error != nil {
			failed++
			fmt.Fprintf(w, "| %s | error | - | - | %s |\n", escapeCell(res.Candidate), escapeCell(res.Error.Error()))
			continue
		}
		if res.Verdict.IsStolen {
			stolen++
		}
		fmt.Fprintf(w, "| %s | %s | %.4f | %.3g | |\n", escapeCell(res.Candidate),
			verdictLabel(res.Verdict.IsStolen), res.Verdict.TriggerSuccessRate, res.Verdict.Detail.PValue)
	}

	fmt.Fprintf(w, "\n%d candidates, %d watermarked, %d failed\n\n", len(results), stolen, failed)
	r.writeFooter(w)
}

// RenderSummary prints a terse verdict summary to w
func (r *Renderer) RenderSummary(w io.Writer, v *model.Verdict) {
	d := v.Detail
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Candidate: %s\n", d.Candidate)
	fmt.Fprintf(w, "Record:    %s\n", d.RecordID)
	fmt.Fprintf(w, "Verdict:   %s\n", verdictLabel(v.IsStolen))
	fmt.Fprintf(w, "Rate:      %.4f (%d/%d, threshold %.2f)\n", v.TriggerSuccessRate, d.Hits, d.Probes, d.Threshold)
	fmt.Fprintf(w, "p-value:   %.3g\n", d.PValue)

	warnings := make([]model.Signal, 0, len(d.Signals))
	for _, s := range d.Signals {
		if s.Severity == model.SeverityWarning {
			warnings = append(warnings, s)
		}
	}
	sort.SliceStable(warnings, func(i, j int) bool { return warnings[i].Type < warnings[j].Type })
	for _, s := range warnings {
		fmt.Fprintf(w, "⚠️  %s\n", s.Description)
	}
	fmt.Fprintf(w, "\n")
}

func (r *Renderer) writeFooter(w io.Writer) {
	if !r.includeFooter {
		return
	}
	fmt.Fprintf(w, "---\n\n")
	fmt.Fprintf(w, "_A verdict is statistical evidence of derivation, not proof. Keep ownership records private: anyone holding the triggers can test for or remove the watermark._\n")
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func verdictLabel(stolen bool) string {
	if stolen {
		return "WATERMARK DETECTED"
	}
	return "not detected"
}

func severityIcon(s model.SignalSeverity) string {
	switch s {
	case model.SeverityCritical:
		return "🔴"
	case model.SeverityWarning:
		return "🟡"
	default:
		return "🔵"
	}
}

func hitMark(hit bool) string {
	if hit {
		return "✓"
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
