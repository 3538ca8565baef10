package models

// Spreadsheet is the HTML of one selected spreadsheet, ready for prompting.
type Spreadsheet struct {
	Key    string
	Source string
	HTML   string
}

// HeaderSet holds the row and column labels of a normalized table.
type HeaderSet struct {
	RowHeaders []string
	ColHeaders []string
}

// RefineResult is the outcome of a refine composition. Answer is always the
// last element of Chain.
type RefineResult struct {
	Chain  []string
	Answer string
}

// StepFunc observes a refine composition after each transition. step is
// zero based.
type StepFunc func(step, total int, answer string)

type StreamStatus int

const (
	StreamRunning StreamStatus = iota
	StreamCompleted
	StreamRetriesExhausted
	StreamCanceled
)

func (s StreamStatus) String() string {
	switch s {
	case StreamRunning:
		return "running"
	case StreamCompleted:
		return "completed"
	case StreamRetriesExhausted:
		return "retries_exhausted"
	case StreamCanceled:
		return "canceled"
	}
	return "unknown"
}

// StreamUpdate is emitted for every delta received from the model. Text is
// the answer accumulated so far within the current attempt. The final update
// of a stream has Done set and carries the terminal Status.
type StreamUpdate struct {
	RequestID string
	Attempt   int
	Delta     string
	Text      string
	Done      bool
	Status    StreamStatus
}
