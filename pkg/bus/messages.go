package bus

// Request is an inbound user request: natural-language text to turn
// into a plan, identified for correlation with events and history.
type Request struct {
	ID   string
	Text string
}

// EventKind tags outbound events for rendering.
type EventKind string

const (
	EventProgress EventKind = "progress" // one line of live command output
	EventInfo     EventKind = "info"     // engine status (generating, simulating, ...)
	EventResult   EventKind = "result"   // final text for a completed request
	EventError    EventKind = "error"    // terminal failure for a request
)

// Event is an outbound engine event.
type Event struct {
	Kind      EventKind
	RequestID string
	Text      string
}
