// ABOUTME: Deterministic mapping from domain entities to pub/sub channel names
// ABOUTME: Pure functions - any subscriber can compute its channel without a lookup

package channel

import "strings"

// Channel name prefixes. A conversation channel carries message-level events
// (new message, deletion, read receipts); an agent channel carries queue-level
// projection updates for that agent.
const (
	conversationPrefix = "chat:"
	agentPrefix        = "agent:"
)

// ChannelKind classifies a channel name.
type ChannelKind int

const (
	KindUnknown ChannelKind = iota
	KindConversation
	KindAgent
)

// Conversation returns the channel name for intra-conversation events.
func Conversation(conversationID string) string {
	return conversationPrefix + conversationID
}

// Agent returns the channel name for queue-level updates visible to an agent.
func Agent(agentID string) string {
	return agentPrefix + agentID
}

// Kind reports what kind of channel a name refers to and the embedded entity ID.
func Kind(name string) (ChannelKind, string) {
	switch {
	case strings.HasPrefix(name, conversationPrefix):
		return KindConversation, strings.TrimPrefix(name, conversationPrefix)
	case strings.HasPrefix(name, agentPrefix):
		return KindAgent, strings.TrimPrefix(name, agentPrefix)
	default:
		return KindUnknown, ""
	}
}
