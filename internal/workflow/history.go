package workflow

import "github.com/supportflow-io/supportflow/pkg/protocol"

// maxHistoryTurns bounds the conversation prefix supplied to the
// collaborator: the most recent 5 exchanges, i.e. up to 10 role-tagged
// messages.
const maxHistoryTurns = 5

// TrimTurns returns the most recent window of well-formed turns in
// chronological order. Malformed entries (unknown role or empty content)
// are dropped rather than treated as an error.
func TrimTurns(turns []protocol.Turn) []protocol.Turn {
	clean := make([]protocol.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		if t.Role != protocol.RoleUser && t.Role != protocol.RoleAssistant {
			continue
		}
		clean = append(clean, t)
	}

	limit := maxHistoryTurns * 2
	if len(clean) > limit {
		clean = clean[len(clean)-limit:]
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
