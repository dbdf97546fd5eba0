package protocol

// Label is the category the classifier assigns to an inbound message.
type Label string

const (
	LabelPositiveFeedback Label = "positive_feedback"
	LabelNegativeFeedback Label = "negative_feedback"
	LabelQuery            Label = "query"
)

// Valid reports whether l is one of the three labels the classifier is
// contracted to produce.
func (l Label) Valid() bool {
	switch l {
	case LabelPositiveFeedback, LabelNegativeFeedback, LabelQuery:
		return true
	}
	return false
}

// Classification is the classifier's verdict on a single message.
type Classification struct {
	Label      Label   `json:"classified_type"`
	Confidence float64 `json:"confidence"`
	Topic      string  `json:"extracted_topic"`
	Reasoning  string  `json:"reasoning,omitempty"`
}
