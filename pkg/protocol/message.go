package protocol

// Chat roles used in conversation history and provider calls.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single role-tagged message in a prior conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProcessRequest is one inbound customer message submitted by the
// presentation boundary.
type ProcessRequest struct {
	Message      string `json:"message"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	SessionID    string `json:"session_id,omitempty"`
	PriorTurns   []Turn `json:"prior_turns,omitempty"`
}

// ProcessResult is the outcome of one orchestration run.
type ProcessResult struct {
	Label        Label        `json:"classification"`
	Confidence   float64      `json:"confidence"`
	Topic        string       `json:"topic"`
	HandlerName  string       `json:"handler"`
	Response     string       `json:"response"`
	TicketID     string       `json:"ticket_id,omitempty"`
	TicketStatus TicketStatus `json:"ticket_status,omitempty"`
	LatencyMs    int64        `json:"latency_ms"`
}
