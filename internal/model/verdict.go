package model

import "time"

// Verdict is the outcome of verifying one candidate model against one ownership record.
// Verdicts are produced fresh per call and never cached.
type Verdict struct {
	IsStolen           bool     `json:"is_stolen"`
	TriggerSuccessRate float64  `json:"trigger_success_rate"`
	Detail             Evidence `json:"detail"`
}

// Evidence is the audit trail behind a verdict
type Evidence struct {
	RecordID    string          `json:"record_id"`
	Candidate   string          `json:"candidate"`
	VerifiedAt  time.Time       `json:"verified_at"`
	TargetLabel Label           `json:"target_label"`
	Policy      InsertionPolicy `json:"insertion_policy"`

	Threshold float64 `json:"threshold"`
	Probes    int     `json:"probes"`
	Hits      int     `json:"hits"`

	// Binomial tail P[X >= hits] for a model that predicts the target label at the prior rate
	PValue      float64 `json:"p_value"`
	Confidence  float64 `json:"confidence"` // 1 - PValue
	TargetPrior float64 `json:"target_prior"`

	Signals []Signal       `json:"signals"`
	Samples []ProbeOutcome `json:"samples,omitempty"`
}

// ProbeOutcome is the per-probe record kept for audit
type ProbeOutcome struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Predicted  Label   `json:"predicted"`
	Confidence float64 `json:"confidence"` // Probability assigned to the predicted label
	Hit        bool    `json:"hit"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalTriggerSuccess   SignalType = "trigger_success"   // Rate versus threshold
	SignalSignificance     SignalType = "significance"      // Binomial tail against the target prior
	SignalWatermarkDrift   SignalType = "watermark_drift"   // Rate versus the rate recorded at watermark time
	SignalLabelConcentrate SignalType = "label_concentrate" // Candidate predicts a single label for every probe
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
