// Package llm wraps the LLM provider behind the two narrow collaborator
// call sites the orchestration engine depends on: classification and
// response generation. Every call is bounded by a configured timeout and
// errors come back as *Failure so callers can apply their documented
// fallbacks without inspecting provider internals.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/supportflow-io/supportflow/internal/provider"
	"github.com/supportflow-io/supportflow/pkg/protocol"
)

// DefaultTimeout bounds a single collaborator call when no timeout is
// configured.
const DefaultTimeout = 30 * time.Second

// Failure is a typed collaborator failure: the call errored, timed out,
// or returned output that could not be interpreted.
type Failure struct {
	Op  string // "classify" or "generate"
	Err error
}

func (f *Failure) Error() string { return fmt.Sprintf("llm %s: %v", f.Op, f.Err) }
func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err is a collaborator failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// Client is the collaborator used by the engine for classification and
// generation.
type Client struct {
	prov    provider.Provider
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a collaborator client. A non-positive timeout falls back to
// DefaultTimeout; a nil logger falls back to slog.Default.
func New(prov provider.Provider, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{prov: prov, timeout: timeout, logger: logger}
}

// Generate asks the provider for plain customer-facing text. The history
// turns, if any, are placed between the system instructions and the
// current content.
func (c *Client) Generate(ctx context.Context, system, content string, history []protocol.Turn) (string, error) {
	messages := make([]protocol.ChatMessage, 0, len(history)+2)
	messages = append(messages, protocol.ChatMessage{Role: protocol.RoleSystem, Content: system})
	for _, turn := range history {
		messages = append(messages, protocol.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, protocol.ChatMessage{Role: protocol.RoleUser, Content: content})

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.prov.Chat(callCtx, protocol.ChatRequest{
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   400,
	})
	if err != nil {
		return "", &Failure{Op: "generate", Err: err}
	}
	if resp.Content == "" {
		return "", &Failure{Op: "generate", Err: errors.New("empty response")}
	}

	c.logger.Debug("generation complete",
		"provider", c.prov.Name(),
		"tokens", resp.Usage.TotalTokens(),
	)
	return resp.Content, nil
}
