package harness

// Trace event types.
const (
	EventStep   = "step"
	EventRender = "render"
)

// TraceEvent is one step or one renderer call.
type TraceEvent struct {
	Seq      int64          `json:"seq"`
	Type     string         `json:"type"`
	Op       string         `json:"op,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	Key      string         `json:"key,omitempty"`
	KnownRef string         `json:"known_ref,omitempty"`
	Ref      string         `json:"ref,omitempty"`
	Outcome  string         `json:"outcome"`
	Report   *ReportSummary `json:"report,omitempty"`
}

// ReportSummary is the counter part of a reconcile.BatchReport.
type ReportSummary struct {
	Total            int `json:"total"`
	Succeeded        int `json:"succeeded"`
	Failed           int `json:"failed"`
	Invalid          int `json:"invalid"`
	Unchanged        int `json:"unchanged"`
	Drifted          int `json:"drifted"`
	NullRefs         int `json:"null_refs"`
	Corrected        int `json:"corrected"`
	Superseded       int `json:"superseded"`
	CorrectionFailed int `json:"correction_failed"`
}

// counters returns the summary keyed by JSON name.
func (r *ReportSummary) counters() map[string]int {
	return map[string]int{
		"total":             r.Total,
		"succeeded":         r.Succeeded,
		"failed":            r.Failed,
		"invalid":           r.Invalid,
		"unchanged":         r.Unchanged,
		"drifted":           r.Drifted,
		"null_refs":         r.NullRefs,
		"corrected":         r.Corrected,
		"superseded":        r.Superseded,
		"correction_failed": r.CorrectionFailed,
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all steps and renderer calls in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
