package domain

// EventKind tags a transfer event.
type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventSuccess
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventSuccess:
		return "success"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one transfer outcome or progress report for a record.
type Event struct {
	Kind       EventKind
	FileID     string
	Percentage int
	Response   any
	Err        error
}

// ProgressEvent builds a progress event.
func ProgressEvent(fileID string, percentage int) Event {
	return Event{Kind: EventProgress, FileID: fileID, Percentage: percentage}
}

// SuccessEvent builds a terminal success event.
func SuccessEvent(fileID string, response any) Event {
	return Event{Kind: EventSuccess, FileID: fileID, Response: response}
}

// ErrorEvent builds a terminal failure event.
func ErrorEvent(fileID string, err error) Event {
	return Event{Kind: EventError, FileID: fileID, Err: err}
}

// Terminal reports whether the event ends the transfer.
func (e Event) Terminal() bool {
	return e.Kind == EventSuccess || e.Kind == EventError
}

// Percentage converts transport byte counts to a whole percentage. Unknown or
// zero totals report 0.
func Percentage(loaded, total int64) int {
	if total <= 0 || loaded <= 0 {
		return 0
	}
	// round half up
	return int((loaded*200 + total) / (2 * total))
}
