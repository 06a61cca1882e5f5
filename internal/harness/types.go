package harness

// Trace event types.
const (
	EventTransact = "transact"
	EventOutcome  = "outcome"
)

// TraceEvent records one observable step of a scenario.
type TraceEvent struct {
	Type string `json:"type"` // "transact" or "outcome"
	Step int    `json:"step"`

	// Outcome events.
	Vocabulary string `json:"vocabulary,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	From       uint32 `json:"from,omitempty"`
	To         uint32 `json:"to,omitempty"`
	Error      string `json:"error,omitempty"`
	Warning    bool   `json:"warning,omitempty"`
	PostError  bool   `json:"post_error,omitempty"`

	// Transact events.
	Datoms int `json:"datoms,omitempty"`

	Seq int64 `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every transaction and vocabulary outcome in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
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

// AddTransactTrace adds a plain transaction to the trace.
func (r *Result) AddTransactTrace(step, datoms int, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventTransact,
		Step:   step,
		Datoms: datoms,
		Seq:    seq,
	})
}

// AddOutcomeTrace adds one vocabulary outcome to the trace.
func (r *Result) AddOutcomeTrace(step int, ev TraceEvent, seq int64) {
	ev.Type = EventOutcome
	ev.Step = step
	ev.Seq = seq
	r.Trace = append(r.Trace, ev)
}
