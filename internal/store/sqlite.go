package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

// maxIDAttempts bounds ticket id rejection sampling. The id space holds
// 900,000 values; hitting this limit means the table is essentially full.
const maxIDAttempts = 1000

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// sessionMu serializes session read-modify-write so concurrent
	// appends to the same session never lose a log reference.
	sessionMu sync.Mutex
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id                TEXT PRIMARY KEY,
			customer_id       TEXT NOT NULL,
			customer_name     TEXT NOT NULL DEFAULT '',
			message           TEXT NOT NULL,
			classification    TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'unresolved',
			agent_response    TEXT NOT NULL DEFAULT '',
			customer_feedback TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,
			resolved_at       TEXT
		);

		CREATE TABLE IF NOT EXISTS interaction_logs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id    TEXT NOT NULL,
			input          TEXT NOT NULL,
			classification TEXT NOT NULL DEFAULT '',
			confidence     REAL NOT NULL DEFAULT 0,
			topic          TEXT NOT NULL DEFAULT '',
			ticket_id      TEXT REFERENCES tickets(id),
			handler        TEXT NOT NULL DEFAULT '',
			response       TEXT NOT NULL DEFAULT '',
			latency_ms     INTEGER NOT NULL DEFAULT 0,
			timestamp      TEXT NOT NULL,
			error          TEXT
		);

		CREATE TABLE IF NOT EXISTS session_history (
			session_id    TEXT PRIMARY KEY,
			customer_id   TEXT NOT NULL DEFAULT '',
			log_ids       TEXT NOT NULL DEFAULT '[]',
			context       TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_customer ON tickets(customer_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_name ON tickets(customer_name);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_logs_customer ON interaction_logs(customer_id);
		CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON interaction_logs(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// --- tickets ---

func (s *SQLiteStore) CreateTicket(customerID, customerName, message string, classification protocol.Label) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	// Rejection sampling: draw a 6-digit id and let the primary key
	// arbitrate uniqueness. A conflicting draw inserts nothing and we
	// redraw; uniqueness check and insert are one atomic statement.
	for range maxIDAttempts {
		id := fmt.Sprintf("%06d", rand.IntN(900000)+100000)
		res, err := s.db.Exec(`
			INSERT INTO tickets (id, customer_id, customer_name, message, classification, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, customerID, customerName, message, string(classification), string(protocol.TicketUnresolved), now, now)
		if err != nil {
			return "", fmt.Errorf("store: create ticket: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return id, nil
		}
	}
	return "", fmt.Errorf("store: create ticket: no free id after %d attempts", maxIDAttempts)
}

const ticketColumns = `id, customer_id, customer_name, message, classification, status, agent_response, customer_feedback, created_at, updated_at, resolved_at`

func (s *SQLiteStore) GetTicket(id string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("store: get ticket: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTickets(filter TicketFilter) ([]*protocol.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	var args []any

	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}
	if filter.CustomerName != "" {
		query += " AND customer_name = ? COLLATE NOCASE"
		args = append(args, filter.CustomerName)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list tickets scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(id string, status protocol.TicketStatus) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT status FROM tickets WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrTicketNotFound
	}
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}

	if !protocol.TicketStatus(current).CanTransitionTo(status) {
		return fmt.Errorf("store: %w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if status == protocol.TicketResolved {
		// resolved_at is stamped once; re-resolving is a no-op on it.
		_, err = tx.Exec(`UPDATE tickets SET status = ?, updated_at = ?, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`,
			string(status), now, now, id)
	} else {
		_, err = tx.Exec(`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AddAgentResponse(id, response string) error {
	return s.updateTicketField(id, "agent_response", response)
}

func (s *SQLiteStore) SetCustomerFeedback(id, feedback string) error {
	return s.updateTicketField(id, "customer_feedback", feedback)
}

func (s *SQLiteStore) updateTicketField(id, column, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE tickets SET `+column+` = ?, updated_at = ? WHERE id = ?`, value, now, id)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// --- interaction logs ---

func (s *SQLiteStore) LogInteraction(log *protocol.InteractionLog) (int64, error) {
	ts := log.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	latency := log.LatencyMs
	if latency < 0 {
		latency = 0
	}
	var ticketID any
	if log.TicketID != "" {
		ticketID = log.TicketID
	}
	var errDetail any
	if log.ErrorDetail != "" {
		errDetail = log.ErrorDetail
	}

	res, err := s.db.Exec(`
		INSERT INTO interaction_logs (customer_id, input, classification, confidence, topic, ticket_id, handler, response, latency_ms, timestamp, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.CustomerID, log.Input, string(log.Label), log.Confidence, log.Topic, ticketID,
		log.HandlerName, log.Response, latency, ts.Format(time.RFC3339), errDetail)
	if err != nil {
		return 0, fmt.Errorf("store: log interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: log interaction: %w", err)
	}
	return id, nil
}

const logColumns = `id, customer_id, input, classification, confidence, topic, ticket_id, handler, response, latency_ms, timestamp, error`

func (s *SQLiteStore) GetLogsByIDs(ids []int64) ([]*protocol.InteractionLog, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`SELECT `+logColumns+` FROM interaction_logs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: logs by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*protocol.InteractionLog, len(ids))
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("store: logs by ids scan: %w", err)
		}
		byID[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the caller's ordering (session log_ids are chronological).
	logs := make([]*protocol.InteractionLog, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			logs = append(logs, l)
		}
	}
	return logs, nil
}

func (s *SQLiteStore) GetLogsByCustomer(customerID string, limit int) ([]*protocol.InteractionLog, error) {
	query := `SELECT ` + logColumns + ` FROM interaction_logs WHERE customer_id = ? ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, customerID)
	if err != nil {
		return nil, fmt.Errorf("store: logs by customer: %w", err)
	}
	defer rows.Close()

	var logs []*protocol.InteractionLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("store: logs by customer scan: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) GetStats(windowDays int) (*protocol.Stats, error) {
	since := time.Now().UTC().AddDate(0, 0, -windowDays).Format(time.RFC3339)

	rows, err := s.db.Query(`SELECT classification, confidence, latency_ms FROM interaction_logs WHERE timestamp >= ?`, since)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	stats := &protocol.Stats{ByLabel: make(map[protocol.Label]int)}
	var sumConfidence float64
	var sumLatency int64
	for rows.Next() {
		var label string
		var confidence float64
		var latency int64
		if err := rows.Scan(&label, &confidence, &latency); err != nil {
			return nil, fmt.Errorf("store: stats scan: %w", err)
		}
		stats.Count++
		sumConfidence += confidence
		sumLatency += latency
		stats.ByLabel[protocol.Label(label)]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Count > 0 {
		stats.AvgConfidence = sumConfidence / float64(stats.Count)
		stats.AvgLatencyMs = float64(sumLatency) / float64(stats.Count)
	}
	return stats, nil
}

// --- session history ---

func (s *SQLiteStore) AppendToSession(sessionID, customerID string, logID int64) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	var logIDsJSON string
	err := s.db.QueryRow(`SELECT log_ids FROM session_history WHERE session_id = ?`, sessionID).Scan(&logIDsJSON)
	if err == sql.ErrNoRows {
		ids, _ := json.Marshal([]int64{logID})
		_, err := s.db.Exec(`
			INSERT INTO session_history (session_id, customer_id, log_ids, created_at, last_accessed)
			VALUES (?, ?, ?, ?, ?)
		`, sessionID, customerID, string(ids), now, now)
		if err != nil {
			return fmt.Errorf("store: create session: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: append to session: %w", err)
	}

	var logIDs []int64
	if err := json.Unmarshal([]byte(logIDsJSON), &logIDs); err != nil {
		// Malformed blob: start over rather than fail the append.
		logIDs = nil
	}
	if slices.Contains(logIDs, logID) {
		return nil
	}
	logIDs = append(logIDs, logID)

	ids, _ := json.Marshal(logIDs)
	_, err = s.db.Exec(`UPDATE session_history SET log_ids = ?, last_accessed = ? WHERE session_id = ?`,
		string(ids), now, sessionID)
	if err != nil {
		return fmt.Errorf("store: append to session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*protocol.SessionHistory, error) {
	row := s.db.QueryRow(`SELECT session_id, customer_id, log_ids, context, created_at, last_accessed FROM session_history WHERE session_id = ?`, sessionID)

	var h protocol.SessionHistory
	var logIDsJSON, createdAt, lastAccessed string
	err := row.Scan(&h.SessionID, &h.CustomerID, &logIDsJSON, &h.Context, &createdAt, &lastAccessed)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}

	if err := json.Unmarshal([]byte(logIDsJSON), &h.LogIDs); err != nil {
		return nil, fmt.Errorf("store: get session: corrupt log_ids for %s: %w", sessionID, err)
	}
	h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	h.LastAccessed, _ = time.Parse(time.RFC3339, lastAccessed)

	// Reading for continuation counts as access.
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.Exec(`UPDATE session_history SET last_accessed = ? WHERE session_id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("store: get session: bump last_accessed: %w", err)
	}

	return &h, nil
}

func (s *SQLiteStore) UpdateSessionContext(sessionID, context string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE session_history SET context = ?, last_accessed = ? WHERE session_id = ?`,
		context, now, sessionID)
	if err != nil {
		return fmt.Errorf("store: update session context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSessions(limit int) ([]*protocol.SessionHistory, error) {
	query := `SELECT session_id, customer_id, log_ids, context, created_at, last_accessed FROM session_history ORDER BY last_accessed DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*protocol.SessionHistory
	for rows.Next() {
		var h protocol.SessionHistory
		var logIDsJSON, createdAt, lastAccessed string
		if err := rows.Scan(&h.SessionID, &h.CustomerID, &logIDsJSON, &h.Context, &createdAt, &lastAccessed); err != nil {
			return nil, fmt.Errorf("store: list sessions scan: %w", err)
		}
		json.Unmarshal([]byte(logIDsJSON), &h.LogIDs)
		h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		h.LastAccessed, _ = time.Parse(time.RFC3339, lastAccessed)
		sessions = append(sessions, &h)
	}
	return sessions, rows.Err()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var classification, status, createdAt, updatedAt string
	var resolvedAt *string

	err := row.Scan(&t.ID, &t.CustomerID, &t.CustomerName, &t.Message, &classification,
		&status, &t.AgentResponse, &t.CustomerFeedback, &createdAt, &updatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	t.Classification = protocol.Label(classification)
	t.Status = protocol.TicketStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if resolvedAt != nil {
		rt, _ := time.Parse(time.RFC3339, *resolvedAt)
		t.ResolvedAt = &rt
	}
	return &t, nil
}

func scanLog(row scannable) (*protocol.InteractionLog, error) {
	var l protocol.InteractionLog
	var label, ts string
	var ticketID, errDetail *string

	err := row.Scan(&l.ID, &l.CustomerID, &l.Input, &label, &l.Confidence, &l.Topic,
		&ticketID, &l.HandlerName, &l.Response, &l.LatencyMs, &ts, &errDetail)
	if err != nil {
		return nil, err
	}

	l.Label = protocol.Label(label)
	l.Timestamp, _ = time.Parse(time.RFC3339, ts)
	if ticketID != nil {
		l.TicketID = *ticketID
	}
	if errDetail != nil {
		l.ErrorDetail = *errDetail
	}
	return &l, nil
}
