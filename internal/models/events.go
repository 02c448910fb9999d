package models

// EventKind tags a ProgressEvent.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// ProgressEvent is the tagged union pushed to a waiting client:
// Status(Text) | Complete(Locator) | Error(Message).
type ProgressEvent struct {
	Kind    EventKind
	Text    string
	Locator string
	Message string
}

func StatusEvent(text string) ProgressEvent {
	return ProgressEvent{Kind: EventStatus, Text: text}
}

func CompleteEvent(locator string) ProgressEvent {
	return ProgressEvent{Kind: EventComplete, Locator: locator}
}

func ErrorEvent(message string) ProgressEvent {
	return ProgressEvent{Kind: EventError, Message: message}
}

// IsTerminal reports whether the event ends the stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}
