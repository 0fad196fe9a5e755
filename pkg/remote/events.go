package remote

// Event kinds emitted by a remote agent server.
const (
	EventMessage = "message"
	EventStatus  = "status"
	EventTool    = "tool"
)

// Status values carried by status events.
const (
	StatusTyping = "typing"
	StatusReady  = "ready"
	StatusError  = "error"
)

// Event is one entry in a remote server's event log.
type Event struct {
	Kind          string         `json:"kind"`
	Source        string         `json:"source"`
	Offset        int64          `json:"offset"`
	CorrelationID string         `json:"correlation_id"`
	Data          map[string]any `json:"data"`
}

// Status extracts data.status for status events.
func (e Event) Status() string {
	if s, ok := e.Data["status"].(string); ok {
		return s
	}
	return ""
}

// Message extracts data.message for message events.
func (e Event) Message() string {
	if m, ok := e.Data["message"].(string); ok {
		return m
	}
	return ""
}

// BaseCorrelation returns the correlation id prefix before "::", which
// groups every event belonging to one agent trace.
func (e Event) BaseCorrelation() string {
	for i := 0; i+1 < len(e.CorrelationID); i++ {
		if e.CorrelationID[i] == ':' && e.CorrelationID[i+1] == ':' {
			return e.CorrelationID[:i]
		}
	}
	return e.CorrelationID
}

// FromAgent reports whether the event originated from the remote agent
// rather than an echoed user input.
func (e Event) FromAgent() bool {
	return e.Source != "user"
}
