// Package workflow implements the message orchestration engine: one
// acyclic pass of validate, classify, route, handle, format, and log per
// inbound customer message.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/supportflow-io/supportflow/internal/store"
	"github.com/supportflow-io/supportflow/pkg/protocol"
)

// Collaborator is the narrow surface of the language model the engine
// depends on. Both calls are fallible; the engine applies its documented
// fallback at each site rather than aborting the run.
type Collaborator interface {
	Classify(ctx context.Context, message string, history []protocol.Turn) (*protocol.Classification, error)
	Generate(ctx context.Context, system, content string, history []protocol.Turn) (string, error)
}

// ValidationError rejects a request before any work is done. No log row
// is written for a run that fails validation.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow: %s must not be empty", e.Field)
}

// topicPrefixLen bounds the fallback topic taken from the raw message
// when classification fails.
const topicPrefixLen = 50

// Engine sequences one request through the full pipeline.
type Engine struct {
	llm    Collaborator
	store  store.Store
	logger *slog.Logger
}

// NewEngine creates an orchestration engine. A nil logger falls back to
// slog.Default.
func NewEngine(llm Collaborator, st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{llm: llm, store: st, logger: logger}
}

// handlerOutput is what a handler hands back to the engine: the raw
// response text plus the ticket fields the handler touched, if any.
type handlerOutput struct {
	response     string
	ticketID     string
	ticketStatus protocol.TicketStatus
}

// Process runs one message through the pipeline. Validation failures are
// returned as *ValidationError with nothing persisted. After validation
// the run always produces a customer-facing response: collaborator
// failures fall back to documented defaults at each step. Only a ticket
// store failure in the negative-feedback path aborts a validated run.
func (e *Engine) Process(ctx context.Context, req protocol.ProcessRequest) (*protocol.ProcessResult, error) {
	req.Message = strings.TrimSpace(req.Message)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	switch {
	case req.Message == "":
		return nil, &ValidationError{Field: "message"}
	case req.CustomerID == "":
		return nil, &ValidationError{Field: "customer_id"}
	case req.CustomerName == "":
		return nil, &ValidationError{Field: "customer_name"}
	}

	start := time.Now()
	history := TrimTurns(req.PriorTurns)

	cls, err := e.llm.Classify(ctx, req.Message, history)
	var classifyErr string
	if err != nil {
		// Classifier failure never halts the run: treat the message as
		// a query at the fallback confidence and keep going.
		classifyErr = err.Error()
		cls = &protocol.Classification{
			Label:      protocol.LabelQuery,
			Confidence: 0.5,
			Topic:      topicPrefix(req.Message),
			Reasoning:  "classifier unavailable, defaulted to query",
		}
		e.logger.Warn("classification failed, using fallback",
			"customer_id", req.CustomerID,
			"error", err,
		)
	}

	kind, err := route(cls)
	if err != nil {
		return nil, err
	}

	var out handlerOutput
	switch kind {
	case handlePositiveFeedback:
		out = e.handlePositiveFeedback(ctx, req, cls, history)
	case handleNegativeFeedback:
		out, err = e.handleNegativeFeedback(ctx, req, cls, history)
		if err != nil {
			return nil, err
		}
	case handleQuery:
		out = e.handleQuery(ctx, req, cls, history)
	case handleEscalation:
		out = e.handleEscalation(ctx, req, history)
	}

	response := e.formatResponse(ctx, out.response, kind.name(), req.CustomerName)
	latency := time.Since(start).Milliseconds()

	if kind == handleNegativeFeedback && out.ticketID != "" {
		if err := e.store.AddAgentResponse(out.ticketID, response); err != nil {
			e.logger.Error("failed to record agent response on ticket",
				"ticket_id", out.ticketID,
				"error", err,
			)
		}
	}

	logRow := &protocol.InteractionLog{
		CustomerID:  req.CustomerID,
		Input:       req.Message,
		Label:       cls.Label,
		Confidence:  cls.Confidence,
		Topic:       cls.Topic,
		TicketID:    storableTicketID(out),
		HandlerName: kind.name(),
		Response:    response,
		LatencyMs:   latency,
		Timestamp:   time.Now().UTC(),
		ErrorDetail: classifyErr,
	}
	logID, err := e.store.LogInteraction(logRow)
	if err != nil {
		// The customer already has a response; a failed log row is an
		// operator problem, not a customer one.
		e.logger.Error("failed to write interaction log",
			"customer_id", req.CustomerID,
			"handler", kind.name(),
			"error", err,
		)
	} else if req.SessionID != "" {
		if err := e.store.AppendToSession(req.SessionID, req.CustomerID, logID); err != nil {
			e.logger.Error("failed to append to session",
				"session_id", req.SessionID,
				"log_id", logID,
				"error", err,
			)
		}
	}

	e.logger.Info("message processed",
		"customer_id", req.CustomerID,
		"label", cls.Label,
		"confidence", cls.Confidence,
		"handler", kind.name(),
		"latency_ms", latency,
	)

	return &protocol.ProcessResult{
		Label:        cls.Label,
		Confidence:   cls.Confidence,
		Topic:        cls.Topic,
		HandlerName:  kind.name(),
		Response:     response,
		TicketID:     out.ticketID,
		TicketStatus: out.ticketStatus,
		LatencyMs:    latency,
	}, nil
}

// storableTicketID keeps the weak ticket reference in logs pointing only
// at tickets that exist; a not_found lookup still reports its id to the
// caller but must not be recorded as a reference.
func storableTicketID(out handlerOutput) string {
	if out.ticketStatus == protocol.TicketNotFound {
		return ""
	}
	return out.ticketID
}

func topicPrefix(message string) string {
	runes := []rune(message)
	if len(runes) > topicPrefixLen {
		return string(runes[:topicPrefixLen])
	}
	return message
}
