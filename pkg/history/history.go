// Package history persists conversation transcripts across turns. Stores
// keep ordered per-session message sequences; the orchestrator replays them
// verbatim on the next turn.
package history

import (
	"context"
	"time"

	"github.com/everme/stockagent/pkg/llm"
)

// Message is a single stored conversation message.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves per-session conversation history.
type Store interface {
	// Append adds a message to a session.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Messages returns all messages for a session in insertion order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// Recent returns the last n messages for a session.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error
}

// ToChat converts stored messages to the provider message format.
func ToChat(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{
			Role:    llm.Role(m.Role),
			Content: m.Content,
		})
	}
	return out
}

// FromChat converts provider messages to storable form. Tool-call plumbing
// is intentionally dropped: only user and assistant text is worth replaying
// across turns.
func FromChat(messages []llm.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		out = append(out, Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
