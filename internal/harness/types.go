package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// TraceEvent records one side of a method call: the invocation with its
// resolved arguments, or the completion with its result or error code.
type TraceEvent struct {
	Type   string `json:"type"` // "invocation" or "completion"
	Method string `json:"method"`
	Args   any    `json:"args,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Seq    int64  `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all invocations and completions in call order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Captures holds the values saved by flow steps with a capture name.
	Captures map[string]any `json:"captures,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Captures: make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(method string, args any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventInvocation,
		Method: method,
		Args:   args,
		Seq:    seq,
	})
}

// AddCompletionTrace adds a completion to the trace. errCode is empty for
// calls that succeeded.
func (r *Result) AddCompletionTrace(method string, result any, errCode string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventCompletion,
		Method: method,
		Result: result,
		Error:  errCode,
		Seq:    seq,
	})
}
