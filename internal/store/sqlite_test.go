package store

import (
	"errors"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

var ticketIDRe = regexp.MustCompile(`^[1-9]\d{5}$`)

func TestCreateAndGetTicket(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateTicket("cust-1", "Alice Smith", "My card never arrived", protocol.LabelNegativeFeedback)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ticketIDRe.MatchString(id) {
		t.Errorf("expected 6-digit id, got %q", id)
	}

	ticket, err := s.GetTicket(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ticket.CustomerID != "cust-1" {
		t.Errorf("customer id = %q", ticket.CustomerID)
	}
	if ticket.CustomerName != "Alice Smith" {
		t.Errorf("customer name = %q", ticket.CustomerName)
	}
	if ticket.Status != protocol.TicketUnresolved {
		t.Errorf("expected unresolved, got %q", ticket.Status)
	}
	if ticket.Classification != protocol.LabelNegativeFeedback {
		t.Errorf("classification = %q", ticket.Classification)
	}
	if ticket.ResolvedAt != nil {
		t.Error("new ticket should have no resolved_at")
	}
	if ticket.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestGetTicketNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetTicket("999999"); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestTicketIDsUnique(t *testing.T) {
	s := newTestStore(t)

	seen := make(map[string]bool)
	for range 50 {
		id, err := s.CreateTicket("cust-1", "Alice", "issue", protocol.LabelNegativeFeedback)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate ticket id %q", id)
		}
		seen[id] = true
	}
}

func TestListTicketsFilters(t *testing.T) {
	s := newTestStore(t)

	id1, _ := s.CreateTicket("cust-1", "Alice", "first", protocol.LabelNegativeFeedback)
	s.CreateTicket("cust-2", "Bob", "second", protocol.LabelNegativeFeedback)
	s.CreateTicket("cust-1", "Alice", "third", protocol.LabelQuery)

	byCustomer, err := s.ListTickets(TicketFilter{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byCustomer) != 2 {
		t.Fatalf("expected 2 tickets for cust-1, got %d", len(byCustomer))
	}

	byName, err := s.ListTickets(TicketFilter{CustomerName: "alice"})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(byName) != 2 {
		t.Errorf("case-insensitive name match expected 2, got %d", len(byName))
	}

	if err := s.UpdateStatus(id1, protocol.TicketResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	resolved := protocol.TicketResolved
	byStatus, err := s.ListTickets(TicketFilter{Status: &resolved})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != id1 {
		t.Errorf("expected only %s resolved, got %v", id1, byStatus)
	}

	limited, err := s.ListTickets(TicketFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	s := newTestStore(t)

	id, _ := s.CreateTicket("cust-1", "Alice", "issue", protocol.LabelNegativeFeedback)

	if err := s.UpdateStatus(id, protocol.TicketInProgress); err != nil {
		t.Fatalf("unresolved -> in_progress: %v", err)
	}
	if err := s.UpdateStatus(id, protocol.TicketUnresolved); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("backward transition should fail, got %v", err)
	}
	if err := s.UpdateStatus(id, protocol.TicketResolved); err != nil {
		t.Fatalf("in_progress -> resolved: %v", err)
	}

	ticket, _ := s.GetTicket(id)
	if ticket.ResolvedAt == nil {
		t.Fatal("resolved_at not stamped")
	}
	first := *ticket.ResolvedAt

	// Re-asserting resolved is allowed and must not move the stamp.
	time.Sleep(1100 * time.Millisecond)
	if err := s.UpdateStatus(id, protocol.TicketResolved); err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	ticket, _ = s.GetTicket(id)
	if !ticket.ResolvedAt.Equal(first) {
		t.Errorf("resolved_at changed on re-resolve: %v != %v", ticket.ResolvedAt, first)
	}
}

func TestUpdateStatusUnknownTicket(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdateStatus("000000", protocol.TicketResolved); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestAgentResponseAndFeedback(t *testing.T) {
	s := newTestStore(t)

	id, _ := s.CreateTicket("cust-1", "Alice", "issue", protocol.LabelNegativeFeedback)

	if err := s.AddAgentResponse(id, "We are on it."); err != nil {
		t.Fatalf("add response: %v", err)
	}
	if err := s.SetCustomerFeedback(id, "satisfied"); err != nil {
		t.Fatalf("set feedback: %v", err)
	}

	ticket, _ := s.GetTicket(id)
	if ticket.AgentResponse != "We are on it." {
		t.Errorf("agent response = %q", ticket.AgentResponse)
	}
	if ticket.CustomerFeedback != "satisfied" {
		t.Errorf("feedback = %q", ticket.CustomerFeedback)
	}

	if err := s.AddAgentResponse("000000", "x"); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestLogInteraction(t *testing.T) {
	s := newTestStore(t)

	id, err := s.LogInteraction(&protocol.InteractionLog{
		CustomerID:  "cust-1",
		Input:       "I love the app",
		Label:       protocol.LabelPositiveFeedback,
		Confidence:  0.95,
		Topic:       "mobile app",
		HandlerName: "positive_feedback",
		Response:    "Thank you!",
		LatencyMs:   -5, // clamped to 0
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive autoincrement id, got %d", id)
	}

	logs, err := s.GetLogsByIDs([]int64{id})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].LatencyMs != 0 {
		t.Errorf("negative latency not clamped: %d", logs[0].LatencyMs)
	}
	if logs[0].Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
	if logs[0].TicketID != "" {
		t.Errorf("expected empty ticket id, got %q", logs[0].TicketID)
	}
}

func TestGetLogsByIDsPreservesOrder(t *testing.T) {
	s := newTestStore(t)

	var ids []int64
	for _, input := range []string{"a", "b", "c"} {
		id, _ := s.LogInteraction(&protocol.InteractionLog{CustomerID: "c1", Input: input})
		ids = append(ids, id)
	}

	// Reversed request order, plus an id that does not exist.
	logs, err := s.GetLogsByIDs([]int64{ids[2], 9999, ids[0]})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Input != "c" || logs[1].Input != "a" {
		t.Errorf("order not preserved: %q, %q", logs[0].Input, logs[1].Input)
	}
}

func TestGetLogsByCustomer(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, input := range []string{"oldest", "middle", "newest"} {
		s.LogInteraction(&protocol.InteractionLog{
			CustomerID: "cust-1",
			Input:      input,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	s.LogInteraction(&protocol.InteractionLog{CustomerID: "cust-2", Input: "other"})

	logs, err := s.GetLogsByCustomer("cust-1", 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Input != "newest" || logs[1].Input != "middle" {
		t.Errorf("expected most recent first, got %q, %q", logs[0].Input, logs[1].Input)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	s.LogInteraction(&protocol.InteractionLog{
		CustomerID: "c1", Label: protocol.LabelQuery, Confidence: 0.8, LatencyMs: 100,
	})
	s.LogInteraction(&protocol.InteractionLog{
		CustomerID: "c1", Label: protocol.LabelQuery, Confidence: 0.6, LatencyMs: 300,
	})
	s.LogInteraction(&protocol.InteractionLog{
		CustomerID: "c2", Label: protocol.LabelPositiveFeedback, Confidence: 1.0, LatencyMs: 200,
	})
	// Outside the window.
	s.LogInteraction(&protocol.InteractionLog{
		CustomerID: "c3", Label: protocol.LabelNegativeFeedback, Confidence: 0.9,
		Timestamp: time.Now().UTC().AddDate(0, 0, -10),
	})

	stats, err := s.GetStats(7)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 3 {
		t.Fatalf("expected 3 in window, got %d", stats.Count)
	}
	if stats.AvgConfidence != 0.8 {
		t.Errorf("avg confidence = %v", stats.AvgConfidence)
	}
	if stats.AvgLatencyMs != 200 {
		t.Errorf("avg latency = %v", stats.AvgLatencyMs)
	}
	if stats.ByLabel[protocol.LabelQuery] != 2 {
		t.Errorf("query count = %d", stats.ByLabel[protocol.LabelQuery])
	}
}

func TestGetStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetStats(7)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 0 || stats.AvgConfidence != 0 || stats.AvgLatencyMs != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestAppendToSession(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetSession("sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound before first append, got %v", err)
	}

	// First append creates the session lazily.
	if err := s.AppendToSession("sess-1", "cust-1", 5); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendToSession("sess-1", "cust-1", 9); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Duplicate log id is ignored.
	if err := s.AppendToSession("sess-1", "cust-1", 5); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(sess.LogIDs) != 2 || sess.LogIDs[0] != 5 || sess.LogIDs[1] != 9 {
		t.Errorf("expected log ids [5 9], got %v", sess.LogIDs)
	}
	if sess.CustomerID != "cust-1" {
		t.Errorf("customer id = %q", sess.CustomerID)
	}
}

func TestGetSessionBumpsLastAccessed(t *testing.T) {
	s := newTestStore(t)

	s.AppendToSession("sess-1", "cust-1", 1)
	first, _ := s.GetSession("sess-1")

	time.Sleep(1100 * time.Millisecond)
	s.GetSession("sess-1")

	var lastAccessed string
	s.DB().QueryRow(`SELECT last_accessed FROM session_history WHERE session_id = ?`, "sess-1").Scan(&lastAccessed)
	bumped, _ := time.Parse(time.RFC3339, lastAccessed)
	if !bumped.After(first.LastAccessed) {
		t.Errorf("last_accessed not bumped: %v vs %v", bumped, first.LastAccessed)
	}
}

func TestUpdateSessionContext(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdateSessionContext("missing", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	s.AppendToSession("sess-1", "cust-1", 1)
	if err := s.UpdateSessionContext("sess-1", "customer asked about fees"); err != nil {
		t.Fatalf("update context: %v", err)
	}

	sess, _ := s.GetSession("sess-1")
	if sess.Context != "customer asked about fees" {
		t.Errorf("context = %q", sess.Context)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)

	s.AppendToSession("sess-a", "c1", 1)
	s.AppendToSession("sess-b", "c2", 2)

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	limited, _ := s.ListSessions(1)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestTicketIDsUniqueConcurrent(t *testing.T) {
	s := newTestStore(t)

	const n = 40
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = s.CreateTicket("cust-1", "Alice", "issue", protocol.LabelNegativeFeedback)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("create %d: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate ticket id %q", ids[i])
		}
		seen[ids[i]] = true
	}
}

func TestAppendToSessionConcurrent(t *testing.T) {
	s := newTestStore(t)

	const n = 50
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.AppendToSession("sess-1", "cust-1", int64(i+1))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(sess.LogIDs) != n {
		t.Fatalf("expected %d log ids, got %d: %v", n, len(sess.LogIDs), sess.LogIDs)
	}
	for i := range n {
		if !slices.Contains(sess.LogIDs, int64(i+1)) {
			t.Errorf("log id %d lost", i+1)
		}
	}
}

func TestGetSessionCorruptLogIDs(t *testing.T) {
	s := newTestStore(t)

	s.AppendToSession("sess-1", "cust-1", 1)
	if _, err := s.DB().Exec(`UPDATE session_history SET log_ids = ? WHERE session_id = ?`, "{not json", "sess-1"); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	_, err := s.GetSession("sess-1")
	if err == nil {
		t.Fatal("expected error for corrupt log_ids")
	}
	if errors.Is(err, ErrSessionNotFound) {
		t.Errorf("corrupt blob misreported as missing session: %v", err)
	}
}
