package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseSignature closes every customer-facing message.
const ResponseSignature = "— SupportFlow Customer Care"

const formatSystemPrompt = `You are the final editor for a bank's customer support messages.
You will be given a draft reply. Return the same reply polished for the customer: plain text
only, no JSON, no markdown, no headers. Keep the meaning and all facts (names, ticket numbers,
statuses) exactly as given. End the message with this exact signature on its own line:

` + ResponseSignature

// apologyFallback is returned when the formatting collaborator fails
// outright.
const apologyFallback = "We apologize, but we're having trouble responding right now. Please try again in a few minutes.\n\n" + ResponseSignature

// formatResponse rewrites a handler's draft into the final customer
// message. Formatting never changes meaning; on collaborator failure the
// customer gets a fixed apology rather than raw internals.
func (e *Engine) formatResponse(ctx context.Context, draft, handlerName, customerName string) string {
	content := fmt.Sprintf("Handler: %s\nCustomer name: %s\nDraft reply:\n%s",
		handlerName, customerName, draft)

	text, err := e.llm.Generate(ctx, formatSystemPrompt, content, nil)
	if err != nil {
		e.logger.Warn("response formatting failed, using apology fallback",
			"handler", handlerName,
			"error", err,
		)
		return apologyFallback
	}

	text = unwrapStructured(text)
	if !strings.Contains(text, ResponseSignature) {
		text = strings.TrimRight(text, "\n") + "\n\n" + ResponseSignature
	}
	return text
}

// unwrapStructured recovers the plain text when the collaborator returns
// a JSON wrapper despite the instructions. If the payload cannot be
// unwrapped it is returned unchanged.
func unwrapStructured(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return text
	}

	var wrapper map[string]any
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
		return text
	}
	for _, key := range []string{"response", "message", "text", "content", "reply"} {
		if v, ok := wrapper[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return text
}
