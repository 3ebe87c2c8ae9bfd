package pipeline

// EventType identifies a progress event. EventResult and EventError are
// terminal: a run emits exactly one of them, always last.
type EventType string

const (
	// EventAdmission reports the gate decision for a fresh question.
	EventAdmission EventType = "admission"
	// EventSchema reports the outcome of schema pruning.
	EventSchema EventType = "schema"
	// EventAttempt reports one generate-and-execute cycle.
	EventAttempt EventType = "attempt"
	// EventSQL carries the final working query.
	EventSQL EventType = "sql"
	// EventResult carries the rows of the answer. Terminal.
	EventResult EventType = "result"
	// EventError reports a failed run. Terminal.
	EventError EventType = "error"
)

// Event is one progress notification from a pipeline run. Fields are
// populated per type; unused fields stay zero and are omitted on the
// wire.
type Event struct {
	Type EventType `json:"type"`

	// EventAdmission
	Accepted bool `json:"accepted,omitempty"`
	// EventSchema
	Tables  []string `json:"tables,omitempty"`
	Columns int      `json:"columns,omitempty"`
	// EventAttempt
	Attempt    int    `json:"attempt,omitempty"`
	AttemptSQL string `json:"attemptSQL,omitempty"`
	AttemptErr string `json:"attemptError,omitempty"`
	// EventSQL
	SQL string `json:"sql,omitempty"`
	// EventResult
	ResultColumns []string `json:"resultColumns,omitempty"`
	Rows          [][]any  `json:"rows,omitempty"`
	RowCount      int      `json:"rowCount,omitempty"`
	// EventError
	Kind    FailureKind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// Sink receives events in emission order from a single goroutine.
type Sink func(Event)
