package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Path   string `json:"path,omitempty"`
	Value  any    `json:"value,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Flows holds every flow as stored after the run.
	Flows map[string]map[string]any `json:"flows,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Flows:  make(map[string]map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace records a step.
func (r *Result) addTrace(step int, action, path string, value any) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Action: action, Path: path, Value: value})
}
