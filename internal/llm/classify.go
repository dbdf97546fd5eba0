package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

const classifySystemPrompt = `You are a classification expert for a banking customer support system.

Your task is to classify customer messages into three categories:

1. **positive_feedback**: Messages expressing satisfaction, praise, thanks, or positive experiences.
   Examples: "I love your app!", "Great service!", "Thank you for helping me"

2. **negative_feedback**: Messages with complaints, problems, issues, or dissatisfaction.
   Examples: "My card hasn't arrived", "I'm unhappy with the fees", "This is frustrating"

3. **query**: Messages asking about the status of a support ticket, requesting information, or anything that is not clearly positive or negative feedback.
   Examples: "What's the status of ticket 123456?", "Any update on my issue?", "Check ticket status"

Respond with a single JSON object with these fields:
- "classified_type": one of "positive_feedback", "negative_feedback", "query"
- "confidence": your confidence in this classification, 0.0 to 1.0
- "reasoning": brief explanation of your decision
- "extracted_topic": the main subject/topic of the message`

// Classify asks the provider to classify one customer message. The prior
// turns, if any, are placed between the system instructions and the
// current message so the classifier sees the conversation so far.
//
// Any error — transport, timeout, unparseable output, or an out-of-range
// confidence — is returned as a *Failure; the caller decides the fallback.
func (c *Client) Classify(ctx context.Context, message string, history []protocol.Turn) (*protocol.Classification, error) {
	messages := make([]protocol.ChatMessage, 0, len(history)+2)
	messages = append(messages, protocol.ChatMessage{Role: protocol.RoleSystem, Content: classifySystemPrompt})
	for _, turn := range history {
		messages = append(messages, protocol.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, protocol.ChatMessage{
		Role:    protocol.RoleUser,
		Content: fmt.Sprintf("Classify this customer message: %q", message),
	})

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.prov.Chat(callCtx, protocol.ChatRequest{
		Messages: messages,
		JSONOnly: true,
		// Low temperature for consistent classification.
		Temperature: 0.0,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, &Failure{Op: "classify", Err: err}
	}

	cls, err := parseClassification(resp.Content)
	if err != nil {
		return nil, &Failure{Op: "classify", Err: err}
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return nil, &Failure{Op: "classify", Err: fmt.Errorf("confidence %v out of range", cls.Confidence)}
	}
	if !cls.Label.Valid() {
		return nil, &Failure{Op: "classify", Err: fmt.Errorf("unknown label %q", cls.Label)}
	}

	c.logger.Debug("classification complete",
		"provider", c.prov.Name(),
		"label", cls.Label,
		"confidence", cls.Confidence,
	)
	return cls, nil
}

// parseClassification interprets the model's output. Strict JSON is tried
// first; if the model wrapped the object in prose or a code fence, the
// embedded object is extracted; as a last resort the original
// line-oriented format ("classified_type: query") is parsed.
func parseClassification(text string) (*protocol.Classification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty classification output")
	}

	var cls protocol.Classification
	if err := json.Unmarshal([]byte(text), &cls); err == nil && cls.Label != "" {
		cls.Label = protocol.Label(strings.ToLower(string(cls.Label)))
		return &cls, nil
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &cls); err == nil && cls.Label != "" {
			cls.Label = protocol.Label(strings.ToLower(string(cls.Label)))
			return &cls, nil
		}
	}

	return parseClassificationLines(text)
}

var confidenceRe = regexp.MustCompile(`0?\.\d+|1\.0|\b[01]\b`)

// parseClassificationLines salvages the "field: value" text format some
// models fall back to despite the JSON instruction.
func parseClassificationLines(text string) (*protocol.Classification, error) {
	cls := protocol.Classification{Confidence: 0.5}

	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		switch {
		case strings.Contains(line, "classified_type") || strings.Contains(line, "classification"):
			switch {
			case strings.Contains(line, "positive"):
				cls.Label = protocol.LabelPositiveFeedback
			case strings.Contains(line, "query") && !strings.Contains(line, "feedback"):
				cls.Label = protocol.LabelQuery
			case strings.Contains(line, "negative"):
				cls.Label = protocol.LabelNegativeFeedback
			}
		case strings.Contains(line, "confidence"):
			if m := confidenceRe.FindString(line); m != "" {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					cls.Confidence = v
				}
			}
		case strings.Contains(line, "topic"):
			if _, after, ok := strings.Cut(line, ":"); ok {
				cls.Topic = strings.TrimSpace(after)
			}
		case strings.Contains(line, "reasoning"):
			if _, after, ok := strings.Cut(line, ":"); ok {
				cls.Reasoning = strings.TrimSpace(after)
			}
		}
	}

	if cls.Label == "" {
		return nil, fmt.Errorf("no classification label in output")
	}
	return &cls, nil
}
