package store

import (
	"errors"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

// Sentinel errors for lookups and invalid state changes.
var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence interface for tickets, interaction logs, and
// session history.
type Store interface {
	// CreateTicket generates a fresh unique 6-digit id, inserts the
	// ticket as unresolved, and returns the id.
	CreateTicket(customerID, customerName, message string, classification protocol.Label) (string, error)
	// GetTicket retrieves a ticket by id.
	GetTicket(id string) (*protocol.Ticket, error)
	// ListTickets returns tickets matching the filter, most recent first.
	ListTickets(filter TicketFilter) ([]*protocol.Ticket, error)
	// UpdateStatus changes a ticket's status. Transitions are forward-only;
	// setting resolved stamps the resolution time exactly once.
	UpdateStatus(id string, status protocol.TicketStatus) error
	// AddAgentResponse records the agent's response text on a ticket.
	AddAgentResponse(id, response string) error
	// SetCustomerFeedback records an optional feedback tag on a ticket.
	SetCustomerFeedback(id, feedback string) error

	// LogInteraction appends one interaction log row and returns its id.
	LogInteraction(log *protocol.InteractionLog) (int64, error)
	// GetLogsByIDs returns logs in the order of the given ids; ids with
	// no matching row are skipped.
	GetLogsByIDs(ids []int64) ([]*protocol.InteractionLog, error)
	// GetLogsByCustomer returns a customer's logs, most recent first.
	GetLogsByCustomer(customerID string, limit int) ([]*protocol.InteractionLog, error)
	// GetStats aggregates logs over the last windowDays days.
	GetStats(windowDays int) (*protocol.Stats, error)

	// AppendToSession appends a log reference to a session, creating the
	// session if it does not exist. Appends are serialized per store and
	// duplicate log ids are ignored.
	AppendToSession(sessionID, customerID string, logID int64) error
	// GetSession retrieves a session and bumps its last-accessed time.
	GetSession(sessionID string) (*protocol.SessionHistory, error)
	// UpdateSessionContext replaces a session's context blob
	// (last-writer-wins) and bumps its last-accessed time.
	UpdateSessionContext(sessionID, context string) error
	// ListSessions returns sessions, most recently accessed first.
	ListSessions(limit int) ([]*protocol.SessionHistory, error)
}

// TicketFilter constrains ticket list queries. Empty fields match
// everything.
type TicketFilter struct {
	CustomerID   string
	CustomerName string
	Status       *protocol.TicketStatus
	Limit        int // 0 = no limit
}
