package model

// GroundingStatus is the overall tier of a report
type GroundingStatus string

const (
	Grounded          GroundingStatus = "GROUNDED"
	PartiallyGrounded GroundingStatus = "PARTIALLY_GROUNDED"
	ReviewNeeded      GroundingStatus = "REVIEW_NEEDED"
)

// Counts tallies verdicts by status
type Counts struct {
	Supported int `json:"supported"`
	Partial   int `json:"partial"`
	NotFound  int `json:"not_found"`
	Total     int `json:"total"`
}

// GroundingReport aggregates every verdict for one record version
type GroundingReport struct {
	RecordVersion int             `json:"record_version"`
	Verdicts      []Verdict       `json:"verdicts"` // ordered by claim path order in the record
	Counts        Counts          `json:"counts"`
	OverallScore  float64         `json:"overall_score"`
	OverallStatus GroundingStatus `json:"overall_status"`
	JudgeSkipped  bool            `json:"judge_skipped"`
	Signals       []Signal        `json:"signals,omitempty"`

	Corrections      []Correction `json:"corrections,omitempty"` // append-only across rounds
	CorrectionRounds int          `json:"correction_rounds"`
	Uncorrected      []string     `json:"uncorrected,omitempty"` // claim paths left in their prior state
}

// Verdict returns the verdict for a claim path
func (r *GroundingReport) Verdict(path string) (Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.Path == path {
			return v, true
		}
	}
	return Verdict{}, false
}

// Failing returns the verdicts eligible for self-correction, in report order
func (r *GroundingReport) Failing() []Verdict {
	var out []Verdict
	for _, v := range r.Verdicts {
		if v.Failing() {
			out = append(out, v)
		}
	}
	return out
}

// CorrectionAction is what self-correction did to a claim
type CorrectionAction string

const (
	ActionCorrected CorrectionAction = "CORRECTED"
	ActionRemoved   CorrectionAction = "REMOVED"
)

// Correction records one applied self-correction action
type Correction struct {
	Round     int              `json:"round"`
	Path      string           `json:"path"`
	Kind      ClaimKind        `json:"kind"`
	Original  string           `json:"original"`
	Action    CorrectionAction `json:"action"`
	Corrected string           `json:"corrected,omitempty"`
	Removed   string           `json:"removed_path,omitempty"` // element actually deleted from the record
}

// Signal is a diagnostic with transparent scoring data
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    SignalSeverity `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// SignalType classifies a diagnostic signal
type SignalType string

const (
	SignalAggregate      SignalType = "aggregate_score"   // weighted fraction supported
	SignalNumeric        SignalType = "numeric_grounding" // stat tokens found vs missing
	SignalQuotes         SignalType = "quote_grounding"   // fuzzy quote matches
	SignalSemantic       SignalType = "semantic_grounding"
	SignalNoClaims       SignalType = "no_claims"
	SignalPrecedence     SignalType = "numeric_precedence" // judge verdict capped by a failed stat
	SignalJudgeDegraded  SignalType = "judge_degraded"
	SignalUncorrected    SignalType = "uncorrected_claims"
	SignalCorrectionsRun SignalType = "self_correction"
)

// SignalSeverity indicates the importance of a signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
