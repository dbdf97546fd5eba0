package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/supportflow-io/supportflow/internal/config"
	"github.com/supportflow-io/supportflow/internal/store"
	"github.com/supportflow-io/supportflow/pkg/protocol"
)

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "chat":
		cmdChat(os.Args[2:])
	case "health":
		cmdHealth()
	case "stats":
		cmdStats(os.Args[2:])
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: supportflowctl tickets <list|show|resolve>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: supportflowctl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "resolve":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: supportflowctl tickets resolve <id>")
				os.Exit(1)
			}
			cmdTicketsResolve(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "seed":
		cmdSeed(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: supportflowctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`supportflowctl - customer support workflow CLI

Commands:
  chat                       Interactive support conversation
  tickets list               List tickets (--status, --customer, --limit)
  tickets show <id>          Show one ticket
  tickets resolve <id>       Mark a ticket resolved
  stats                      Interaction statistics (--window days)
  health                     Daemon health
  seed                       Insert sample tickets into a database (--db path)
  config validate <path>     Validate a config file

Environment:
  SUPPORTFLOW_API_URL        Daemon address (default http://localhost:8080)
  SUPPORTFLOW_API_KEY        Bearer token for authenticated endpoints`)
}

// --- chat ---

func cmdChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	customerID := fs.String("customer-id", envOr("SUPPORTFLOW_CUSTOMER_ID", "cli-user"), "Customer id")
	customerName := fs.String("customer-name", envOr("SUPPORTFLOW_CUSTOMER_NAME", "CLI User"), "Customer display name")
	fs.Parse(args)

	sessionID := uuid.NewString()
	fmt.Printf("supportflow chat (session %s, type 'quit' to exit)\n\n", sessionID)

	// Prior turns accumulate locally so the daemon sees the running
	// conversation even across its own restarts.
	var turns []protocol.Turn

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		req := protocol.ProcessRequest{
			Message:      line,
			CustomerID:   *customerID,
			CustomerName: *customerName,
			SessionID:    sessionID,
			PriorTurns:   turns,
		}
		body, err := apiPost("/api/messages", req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		var res protocol.ProcessResult
		if err := json.Unmarshal(body, &res); err != nil {
			fmt.Fprintf(os.Stderr, "error: bad response: %v\n", err)
			continue
		}

		fmt.Println(res.Response)
		if res.TicketID != "" {
			fmt.Printf("  [ticket %s: %s]\n", res.TicketID, res.TicketStatus)
		}
		fmt.Printf("  [%s / %.2f / %s / %dms]\n\n", res.Label, res.Confidence, res.HandlerName, res.LatencyMs)

		turns = append(turns,
			protocol.Turn{Role: protocol.RoleUser, Content: line},
			protocol.Turn{Role: protocol.RoleAssistant, Content: res.Response},
		)
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	window := fs.Int("window", 7, "Window in days")
	fs.Parse(args)

	body, err := apiGet(fmt.Sprintf("/api/stats?window_days=%d", *window))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (unresolved|in_progress|resolved)")
	customer := fs.String("customer", "", "Filter by customer id")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *customer != "" {
		query += "&customer_id=" + *customer
	}

	body, err := apiGet("/api/tickets" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []protocol.Ticket
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		msg := t.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Printf("%-8s %-12s %-20s %s\n", t.ID, t.Status, t.CustomerName, msg)
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsResolve(id string) {
	body, err := apiPost("/api/tickets/"+id+"/status", map[string]string{"status": "resolved"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- seed ---

// cmdSeed inserts two well-known sample tickets directly into a
// database, for demos and local development against a fresh file.
func cmdSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	dbPath := fs.String("db", envOr("SUPPORTFLOW_DB_PATH", "supportflow.db"), "Path to the sqlite database")
	fs.Parse(args)

	st, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer st.DB().Close()

	now := time.Now().UTC().Format(time.RFC3339)
	samples := []struct {
		id, customerID, customerName, message, status string
	}{
		{"123456", "cust-1001", "Alice Johnson", "My new debit card never arrived.", "in_progress"},
		{"234567", "cust-1002", "Charles Brown", "I was charged a maintenance fee I don't recognize.", "unresolved"},
	}

	for _, s := range samples {
		_, err := st.DB().Exec(`
			INSERT INTO tickets (id, customer_id, customer_name, message, classification, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, s.id, s.customerID, s.customerName, s.message, string(protocol.LabelNegativeFeedback), s.status, now, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: seed %s: %v\n", s.id, err)
			os.Exit(1)
		}
		fmt.Printf("seeded ticket %s (%s)\n", s.id, s.customerName)
	}
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", apiBase()+path, nil)
	if err != nil {
		return nil, err
	}
	return doAPI(req)
}

func apiPost(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", apiBase()+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doAPI(req)
}

func doAPI(req *http.Request) ([]byte, error) {
	if key := os.Getenv("SUPPORTFLOW_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func apiBase() string {
	return envOr("SUPPORTFLOW_API_URL", "http://localhost:8080")
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
