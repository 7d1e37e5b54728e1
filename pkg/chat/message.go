package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Citation is a single source reference attached to an AI message.
// Citations are deduplicated by URI and only ever appended during a turn.
type Citation struct {
	URI     string `json:"uri"`
	Title   string `json:"title,omitempty"`
	PlaceID string `json:"placeId,omitempty"`
}

// Attachment is a file carried alongside a user message.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data,omitempty"`
}

// GeneratedImage is an inline image produced by the model. These are never
// written to durable storage.
type GeneratedImage struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Usage represents token usage information reported by the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// Message is a single entry in a conversation transcript.
//
// CompletedAt is nil while the message is still being streamed and is set
// exactly once on finalization. That nil/non-nil state is the authoritative
// in-progress flag; there is no separate boolean.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`

	// LongText holds an optional extended variant of Text, used when the
	// backend returns both a short answer and a long-form expansion.
	LongText string `json:"longText,omitempty"`

	// Thoughts accumulates the reasoning trace. Append-only while streaming.
	Thoughts string `json:"thoughts,omitempty"`

	ExecutableCode string `json:"executableCode,omitempty"`
	CodeOutput     string `json:"codeOutput,omitempty"`

	Attachments []Attachment     `json:"attachments,omitempty"`
	Citations   []Citation       `json:"citations,omitempty"`
	Images      []GeneratedImage `json:"images,omitempty"`
	CodeImages  []GeneratedImage `json:"codeImages,omitempty"`

	Usage    *Usage        `json:"usage,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Streaming reports whether the message is still receiving content.
func (m *Message) Streaming() bool {
	return m != nil && m.CompletedAt == nil
}

// Finalize sets the completion timestamp. It is a no-op if the message has
// already been finalized, preserving the set-exactly-once invariant.
func (m *Message) Finalize(at time.Time) {
	if m == nil || m.CompletedAt != nil {
		return
	}
	t := at
	m.CompletedAt = &t
}

func NewUserMessage(text string, attachments []Attachment) *Message {
	now := time.Now()
	return &Message{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Text:        text,
		Attachments: attachments,
		CompletedAt: &now,
	}
}

// NewPlaceholder returns an empty AI message with no completion timestamp,
// ready to receive streamed deltas.
func NewPlaceholder() *Message {
	return &Message{
		ID:   uuid.NewString(),
		Role: RoleAI,
	}
}
