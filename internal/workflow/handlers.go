package workflow

import (
	"context"
	"fmt"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

const positiveFeedbackSystemPrompt = `You are a warm customer support agent for a bank.
The customer has shared positive feedback. Write a short appreciative reply (2-3 sentences)
that thanks them by name and references what they praised. Do not invent details.`

const negativeFeedbackSystemPrompt = `You are an empathetic customer support agent for a bank.
The customer has reported a problem and a support ticket has been created for them.
Write a short reply (2-4 sentences) that acknowledges the issue, apologizes, and cites
the ticket number so they can follow up. Do not promise specific resolution times.`

const escalationSystemPrompt = `You are a careful customer support agent for a bank.
The customer's message was unclear, so a specialist will review it. Write a short
reassuring reply (2-3 sentences) that thanks them, confirms their message was received,
and says a support specialist will follow up shortly. Do not guess at their intent.`

// handlePositiveFeedback thanks the customer by name, referencing the
// extracted topic. Never touches the ticket store.
func (e *Engine) handlePositiveFeedback(ctx context.Context, req protocol.ProcessRequest, cls *protocol.Classification, history []protocol.Turn) handlerOutput {
	content := fmt.Sprintf("Customer name: %s\nTopic of their feedback: %s\nTheir message: %s",
		req.CustomerName, cls.Topic, req.Message)

	response, err := e.llm.Generate(ctx, positiveFeedbackSystemPrompt, content, history)
	if err != nil {
		e.logger.Warn("positive feedback generation failed, using fallback", "error", err)
		response = fmt.Sprintf("Thank you so much for your kind words, %s! We're delighted to hear it and truly appreciate you taking the time to tell us.", req.CustomerName)
	}
	return handlerOutput{response: response}
}

// handleNegativeFeedback creates a ticket first, then writes the reply
// around it. Ticket creation is the one step that cannot proceed without
// the store, so its failure fails the run.
func (e *Engine) handleNegativeFeedback(ctx context.Context, req protocol.ProcessRequest, cls *protocol.Classification, history []protocol.Turn) (handlerOutput, error) {
	ticketID, err := e.store.CreateTicket(req.CustomerID, req.CustomerName, req.Message, cls.Label)
	if err != nil {
		return handlerOutput{}, fmt.Errorf("workflow: create ticket: %w", err)
	}
	e.logger.Info("ticket created",
		"ticket_id", ticketID,
		"customer_id", req.CustomerID,
		"topic", cls.Topic,
	)

	content := fmt.Sprintf("Customer name: %s\nTicket number: %s\nTopic of their complaint: %s\nTheir message: %s",
		req.CustomerName, ticketID, cls.Topic, req.Message)

	response, err := e.llm.Generate(ctx, negativeFeedbackSystemPrompt, content, history)
	if err != nil {
		e.logger.Warn("negative feedback generation failed, using fallback", "error", err)
		response = fmt.Sprintf("I'm very sorry to hear about this, %s. We've created ticket %s for you and our team will follow up as soon as possible.", req.CustomerName, ticketID)
	}
	return handlerOutput{
		response:     response,
		ticketID:     ticketID,
		ticketStatus: protocol.TicketUnresolved,
	}, nil
}

// handleEscalation acknowledges the message without acting on the
// uncertain label. Never touches the ticket store.
func (e *Engine) handleEscalation(ctx context.Context, req protocol.ProcessRequest, history []protocol.Turn) handlerOutput {
	content := fmt.Sprintf("Customer name: %s\nTheir message: %s", req.CustomerName, req.Message)

	response, err := e.llm.Generate(ctx, escalationSystemPrompt, content, history)
	if err != nil {
		e.logger.Warn("escalation generation failed, using fallback", "error", err)
		response = fmt.Sprintf("Thank you for reaching out, %s. We've received your message and a support specialist will review it and get back to you shortly.", req.CustomerName)
	}
	return handlerOutput{response: response}
}
