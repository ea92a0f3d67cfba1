package provider

import (
	"time"

	"github.com/tandem-dev/tandem/pkg/message"
)

// DefaultGroupWindow is the maximum gap between two canonical messages that
// may be merged into one native record.
const DefaultGroupWindow = 500 * time.Millisecond

// Group partitions canonical messages into native-record groups for the
// reverse (canonical to native) direction, restoring splits the forward
// direction introduced. The tie-break policy:
//
//   - messages of different roles or different source providers never group;
//   - messages more than window apart never group;
//   - only assistant pairs group, and only when exactly one of the pair is a
//     tool call and the other plain text;
//   - two consecutive text messages never merge, so unrelated turns are not
//     conflated.
//
// Each group holds one or two messages in input order.
func Group(msgs []message.Message, window time.Duration) [][]message.Message {
	groups := make([][]message.Message, 0, len(msgs))
	for i := 0; i < len(msgs); {
		if i+1 < len(msgs) && groupable(msgs[i], msgs[i+1], window) {
			groups = append(groups, []message.Message{msgs[i], msgs[i+1]})
			i += 2
			continue
		}
		groups = append(groups, []message.Message{msgs[i]})
		i++
	}
	return groups
}

func groupable(a, b message.Message, window time.Duration) bool {
	if a.Role != b.Role || a.Role != message.RoleAssistant {
		return false
	}
	if a.Metadata.Provider != b.Metadata.Provider {
		return false
	}

	ta, err := a.Time()
	if err != nil {
		return false
	}
	tb, err := b.Time()
	if err != nil {
		return false
	}
	gap := tb.Sub(ta)
	if gap < 0 {
		gap = -gap
	}
	if gap > window {
		return false
	}

	aCall := a.Type == message.TypeToolUse
	bCall := b.Type == message.TypeToolUse
	aText := a.Type == message.TypeMessage && a.Content.Kind == message.ContentText
	bText := b.Type == message.TypeMessage && b.Content.Kind == message.ContentText
	return (aCall && bText) || (aText && bCall)
}
