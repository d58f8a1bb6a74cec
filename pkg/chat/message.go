// Package chat holds the message model shared by the relay, the history store
// and the upstream inference clients.
package chat

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a thread's history. The JSON shape is part of the
// wire protocol (history snapshots) and of the persisted record.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// CloneMessages returns a copy that never aliases in. A nil input yields an
// empty, non-nil slice so it serializes as [] rather than null.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
