package chat

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is one logical transcript: an ordered sequence of messages
// (oldest first) plus the model selection and title shown in the UI.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// Model is the logical model identifier selected for this conversation.
	Model string `json:"model"`

	// Escalated is set once a turn required the highest-capability model
	// (attached file or URL in the prompt) and stays set for the remainder
	// of the conversation's lifetime.
	Escalated bool `json:"escalated,omitempty"`

	Messages []*Message `json:"messages"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewConversation(title string, model string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		Messages:  []*Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StreamingMessage returns the unique AI message without a completion
// timestamp, or nil if no stream is in flight for this conversation.
func (c *Conversation) StreamingMessage() *Message {
	if c == nil {
		return nil
	}
	for _, m := range c.Messages {
		if m.Role == RoleAI && m.Streaming() {
			return m
		}
	}
	return nil
}

func (c *Conversation) Append(messages ...*Message) {
	c.Messages = append(c.Messages, messages...)
	c.UpdatedAt = time.Now()
}
