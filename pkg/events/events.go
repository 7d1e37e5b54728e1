package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/palaver/pkg/chat"
)

type EventType string

const (
	// EventTypeStart through EventTypeFinal cover one streamed generation.
	EventTypeStart   EventType = "start"
	EventTypePartial EventType = "partial"
	// Separate partial stream for reasoning-trace text
	EventTypePartialThinking EventType = "partial-thinking"
	EventTypeCodeDelta       EventType = "code-delta"
	EventTypeCodeOutputDelta EventType = "code-output-delta"
	EventTypeCitation        EventType = "citation"
	EventTypeImages          EventType = "images"
	EventTypeFinal           EventType = "final"
	EventTypeError           EventType = "error"

	// EventTypeStatus carries coarse progress for non-streaming turns
	// (image generation, document upload, cache creation).
	EventTypeStatus EventType = "status"
)

// EventMetadata identifies which conversation and placeholder an event
// belongs to, plus inference metadata for UI/storage.
type EventMetadata struct {
	ConversationID string      `json:"conversation_id"`
	MessageID      uuid.UUID   `json:"message_id"`
	Model          string      `json:"model,omitempty"`
	Usage          *chat.Usage `json:"usage,omitempty"`
	DurationMs     *int64      `json:"duration_ms,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("conversation_id", em.ConversationID)
	e.Str("message_id", em.MessageID.String())
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
		if em.Usage.CachedTokens > 0 {
			e.Int("cached_tokens", em.Usage.CachedTokens)
		}
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// payload holds the raw JSON if the event was deserialized from a
	// message; not otherwise used.
	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata}}
}

// EventPartial carries one text increment plus the completion so far.
type EventPartial struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialEvent(metadata EventMetadata, delta string, completion string) *EventPartial {
	return &EventPartial{
		EventImpl:  EventImpl{Type_: EventTypePartial, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

// EventPartialThinking mirrors EventPartial for the reasoning trace.
type EventPartialThinking struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialThinkingEvent(metadata EventMetadata, delta string, completion string) *EventPartialThinking {
	return &EventPartialThinking{
		EventImpl:  EventImpl{Type_: EventTypePartialThinking, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventCodeDelta struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewCodeDeltaEvent(metadata EventMetadata, delta string) *EventCodeDelta {
	return &EventCodeDelta{EventImpl: EventImpl{Type_: EventTypeCodeDelta, Metadata_: metadata}, Delta: delta}
}

type EventCodeOutputDelta struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewCodeOutputDeltaEvent(metadata EventMetadata, delta string) *EventCodeOutputDelta {
	return &EventCodeOutputDelta{EventImpl: EventImpl{Type_: EventTypeCodeOutputDelta, Metadata_: metadata}, Delta: delta}
}

type EventCitation struct {
	EventImpl
	Citations []chat.Citation `json:"citations"`
}

func NewCitationEvent(metadata EventMetadata, citations []chat.Citation) *EventCitation {
	return &EventCitation{EventImpl: EventImpl{Type_: EventTypeCitation, Metadata_: metadata}, Citations: citations}
}

type EventImages struct {
	EventImpl
	Count int `json:"count"`
}

func NewImagesEvent(metadata EventMetadata, count int) *EventImages {
	return &EventImages{EventImpl: EventImpl{Type_: EventTypeImages, Metadata_: metadata}, Count: count}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata}, Text: text}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{EventImpl: EventImpl{Type_: EventTypeError, Metadata_: metadata}, ErrorString: err.Error()}
}

type EventStatus struct {
	EventImpl
	Message string `json:"message"`
}

func NewStatusEvent(metadata EventMetadata, message string) *EventStatus {
	return &EventStatus{EventImpl: EventImpl{Type_: EventTypeStatus, Metadata_: metadata}, Message: message}
}

func NewEventFromJSON(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return toTypedEvent[EventStart](e)
	case EventTypePartial:
		return toTypedEvent[EventPartial](e)
	case EventTypePartialThinking:
		return toTypedEvent[EventPartialThinking](e)
	case EventTypeCodeDelta:
		return toTypedEvent[EventCodeDelta](e)
	case EventTypeCodeOutputDelta:
		return toTypedEvent[EventCodeOutputDelta](e)
	case EventTypeCitation:
		return toTypedEvent[EventCitation](e)
	case EventTypeImages:
		return toTypedEvent[EventImages](e)
	case EventTypeFinal:
		return toTypedEvent[EventFinal](e)
	case EventTypeError:
		return toTypedEvent[EventError](e)
	case EventTypeStatus:
		return toTypedEvent[EventStatus](e)
	}
	return e, nil
}

func toTypedEvent[T any, PT interface {
	*T
	Event
}](e *EventImpl) (Event, error) {
	var ret PT = new(T)
	if err := json.Unmarshal(e.payload, ret); err != nil {
		return nil, fmt.Errorf("could not cast event to %T: %w", ret, err)
	}
	if setter, ok := any(ret).(interface{ SetPayload([]byte) }); ok {
		setter.SetPayload(e.payload)
	}
	return ret, nil
}

// SetPayload stores the raw JSON payload on the event implementation.
func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}
