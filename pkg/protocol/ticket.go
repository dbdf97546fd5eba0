package protocol

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
// Transitions are forward-only: unresolved → in_progress → resolved.
type TicketStatus string

const (
	TicketUnresolved TicketStatus = "unresolved"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"

	// TicketNotFound is a result-only marker for queries that name a
	// ticket id with no matching record. It is never stored.
	TicketNotFound TicketStatus = "not_found"
)

// rank orders statuses for the forward-only transition check.
func (s TicketStatus) rank() int {
	switch s {
	case TicketUnresolved:
		return 0
	case TicketInProgress:
		return 1
	case TicketResolved:
		return 2
	}
	return -1
}

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool { return s.rank() >= 0 }

// CanTransitionTo reports whether moving from s to next is allowed.
// Re-asserting the current status is allowed (idempotent no-op).
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	return next.Valid() && next.rank() >= s.rank()
}

// Ticket is a durable record tracking one customer complaint to resolution.
type Ticket struct {
	ID               string       `json:"id"` // 6-digit numeric string, never reused
	CustomerID       string       `json:"customer_id"`
	CustomerName     string       `json:"customer_name"`
	Message          string       `json:"message"`
	Classification   Label        `json:"classification"`
	Status           TicketStatus `json:"status"`
	AgentResponse    string       `json:"agent_response,omitempty"`
	CustomerFeedback string       `json:"customer_feedback,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
}

// InteractionLog is one immutable record per completed orchestration run.
type InteractionLog struct {
	ID          int64     `json:"id"`
	CustomerID  string    `json:"customer_id"`
	Input       string    `json:"input"`
	Label       Label     `json:"classification"`
	Confidence  float64   `json:"confidence"`
	Topic       string    `json:"topic"`
	TicketID    string    `json:"ticket_id,omitempty"` // weak reference, may outlive the ticket
	HandlerName string    `json:"handler"`
	Response    string    `json:"response"`
	LatencyMs   int64     `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
	ErrorDetail string    `json:"error,omitempty"`
}

// SessionHistory groups a sequence of interactions for conversational
// continuity under a client-chosen session id.
type SessionHistory struct {
	SessionID    string    `json:"session_id"`
	CustomerID   string    `json:"customer_id"`
	LogIDs       []int64   `json:"log_ids"` // insertion order = chronological order
	Context      string    `json:"context,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Stats is a rollup over interaction logs within a time window.
type Stats struct {
	Count         int           `json:"count"`
	AvgConfidence float64       `json:"avg_confidence"`
	AvgLatencyMs  float64       `json:"avg_latency_ms"`
	ByLabel       map[Label]int `json:"by_classification"`
}
