package model

// ClaimKind selects the verification layer a claim goes through
type ClaimKind string

const (
	ClaimNumericStat ClaimKind = "NUMERIC_STAT"       // Layer 1: stat tokens
	ClaimQuote       ClaimKind = "QUOTE"              // Layer 2: fuzzy match
	ClaimSemantic    ClaimKind = "SEMANTIC_ASSERTION" // Layer 3: judge
)

// Claim is an atomic unit of a record checked against the source.
// Path is the claim's stable identity inside the record.
type Claim struct {
	Path string    `json:"path"`
	Kind ClaimKind `json:"kind"`
	Text string    `json:"text"`
}

// VerdictStatus is the three-valued grounding outcome
type VerdictStatus string

const (
	StatusSupported VerdictStatus = "SUPPORTED"
	StatusPartial   VerdictStatus = "PARTIAL"
	StatusNotFound  VerdictStatus = "NOT_FOUND"
)

// Layer records which check produced a verdict
type Layer string

const (
	LayerNumeric Layer = "numeric"
	LayerQuote   Layer = "quote"
	LayerJudge   Layer = "judge"
	LayerCarried Layer = "carried" // judge verdict reused from a previous report
	LayerSkipped Layer = "skipped" // judge not run
)

// Verdict is the grounding outcome for one claim
type Verdict struct {
	Path       string        `json:"path"`
	Kind       ClaimKind     `json:"kind"`
	Text       string        `json:"text"`
	Status     VerdictStatus `json:"status"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	Layer      Layer         `json:"layer"`
	Found      []string      `json:"found,omitempty"`   // numeric sub-values located in the source
	Missing    []string      `json:"missing,omitempty"` // numeric sub-values not located

	// JudgeStatus is the judge's own answer before numeric precedence capped it
	JudgeStatus VerdictStatus `json:"judge_status,omitempty"`
}

// Failing reports whether the verdict should be sent to self-correction
func (v Verdict) Failing() bool {
	if v.Layer == LayerSkipped {
		return false
	}
	return v.Status == StatusNotFound || v.Status == StatusPartial
}

// Reasons attached by the engine rather than by a layer's own check
const (
	ReasonJudgeUnparseable = "judge output unparseable"
	ReasonJudgeSkipped     = "semantic review skipped"
)
