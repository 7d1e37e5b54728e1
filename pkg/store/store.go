package store

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/models"
)

// ErrQuotaExceeded is returned by Save when the durable store is full. It is
// kept distinct from other I/O failures so the caller can surface a specific
// remediation message instead of a generic one.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

const DefaultSlot = "conversations"

// Store persists the conversation list to a single named slot.
//
// Generated images are stripped before write; they are ephemeral and would
// blow the slot's practical size ceiling after a handful of turns.
type Store struct {
	backend Backend
	slot    string
}

func New(backend Backend, slot string) *Store {
	if slot == "" {
		slot = DefaultSlot
	}
	return &Store{backend: backend, slot: slot}
}

// Save serializes a durability-safe projection of the conversations and
// writes it to the slot. The returned list is the projection that was
// committed. Writing an empty list removes the slot entirely.
func (s *Store) Save(conversations []*chat.Conversation) ([]*chat.Conversation, error) {
	if len(conversations) == 0 {
		if err := s.backend.Delete(s.slot); err != nil {
			return nil, err
		}
		return conversations, nil
	}

	projection := make([]*chat.Conversation, 0, len(conversations))
	for _, c := range conversations {
		projection = append(projection, stripEphemeral(c))
	}

	data, err := json.Marshal(projection)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Write(s.slot, data); err != nil {
		return nil, err
	}
	return projection, nil
}

// Load deserializes the conversation list from the slot. An absent slot
// yields an empty list. A corrupt payload is discarded and erased so the
// failure does not repeat on every subsequent read. Unknown model
// identifiers are coerced to the default model.
func (s *Store) Load() ([]*chat.Conversation, error) {
	data, ok, err := s.backend.Read(s.slot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*chat.Conversation{}, nil
	}

	var conversations []*chat.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		log.Warn().Err(err).Str("slot", s.slot).Msg("discarding corrupt conversation record")
		if delErr := s.backend.Delete(s.slot); delErr != nil {
			log.Warn().Err(delErr).Str("slot", s.slot).Msg("failed to erase corrupt conversation record")
		}
		return []*chat.Conversation{}, nil
	}

	for _, c := range conversations {
		if !models.Known(models.ID(c.Model)) {
			log.Debug().Str("conversation_id", c.ID).Str("model", c.Model).Msg("coercing unknown model to default")
			c.Model = string(models.Default())
		}
	}
	return conversations, nil
}

// stripEphemeral returns a copy of the conversation with non-persistable
// fields removed. Text, citations and timestamps survive unchanged.
func stripEphemeral(c *chat.Conversation) *chat.Conversation {
	out := *c
	out.Messages = make([]*chat.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		mc := *m
		mc.Images = nil
		mc.CodeImages = nil
		out.Messages = append(out.Messages, &mc)
	}
	return &out
}
