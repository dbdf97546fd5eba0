package workflow

import (
	"fmt"

	"github.com/supportflow-io/supportflow/pkg/protocol"
)

// ConfidenceThreshold gates routing by label. A classification strictly
// below this goes to escalation regardless of label.
const ConfidenceThreshold = 0.75

// handlerKind identifies which handler a classified run is routed to.
type handlerKind int

const (
	handlePositiveFeedback handlerKind = iota
	handleNegativeFeedback
	handleQuery
	handleEscalation
)

// Handler names as they appear in interaction logs and responses.
const (
	HandlerPositiveFeedback = "PositiveFeedback"
	HandlerNegativeFeedback = "NegativeFeedback"
	HandlerQuery            = "Query"
	HandlerEscalation       = "Escalation"
)

func (k handlerKind) name() string {
	switch k {
	case handlePositiveFeedback:
		return HandlerPositiveFeedback
	case handleNegativeFeedback:
		return HandlerNegativeFeedback
	case handleQuery:
		return HandlerQuery
	case handleEscalation:
		return HandlerEscalation
	}
	return "unknown"
}

// route selects exactly one handler for a classification. Confidence is
// checked first; only at or above threshold does the label matter. An
// unrecognized label is a contract violation, not a user-facing condition:
// classification output is validated before it reaches here.
func route(cls *protocol.Classification) (handlerKind, error) {
	if cls.Confidence < ConfidenceThreshold {
		return handleEscalation, nil
	}
	switch cls.Label {
	case protocol.LabelPositiveFeedback:
		return handlePositiveFeedback, nil
	case protocol.LabelNegativeFeedback:
		return handleNegativeFeedback, nil
	case protocol.LabelQuery:
		return handleQuery, nil
	}
	return 0, fmt.Errorf("workflow: unroutable label %q", cls.Label)
}
