package stream

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/models"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/go-go-golems/palaver/pkg/store"
	"github.com/go-go-golems/palaver/pkg/titles"
)

// Service is the conversation-management facade: create, delete, rename,
// model switch and title generation. Every mutation is applied optimistically
// to the repository and rolled back if the durable write fails.
type Service struct {
	repo     *chat.Repository
	store    *store.Store
	sessions *session.Manager
	titles   *titles.Generator
}

func NewService(repo *chat.Repository, st *store.Store, sessions *session.Manager, titleGen *titles.Generator) *Service {
	return &Service{
		repo:     repo,
		store:    st,
		sessions: sessions,
		titles:   titleGen,
	}
}

// Load replaces the in-memory snapshot with the durable record. Called once
// at startup; an absent or discarded record yields zero conversations.
func (s *Service) Load() error {
	conversations, err := s.store.Load()
	if err != nil {
		return err
	}
	s.repo.OptimisticSet(conversations)
	return nil
}

// NewConversation creates an empty conversation on the given model and
// persists the updated list.
func (s *Service) NewConversation(title string, model models.ID) (*chat.Conversation, error) {
	if !models.Known(model) {
		return nil, errors.Errorf("unknown model %q", model)
	}
	conv := chat.NewConversation(title, string(model))

	conversations := append(s.repo.Read(), conv)
	if err := s.commit(conversations); err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete removes a conversation. Deleting the one bound to the live cache
// tears the cache down as well.
func (s *Service) Delete(ctx context.Context, conversationID string) error {
	conversations := s.repo.Read()
	kept := conversations[:0]
	found := false
	for _, c := range conversations {
		if c.ID == conversationID {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrConversationNotFound
	}
	if err := s.commit(kept); err != nil {
		return err
	}
	s.sessions.TeardownCache(ctx)
	return nil
}

func (s *Service) Rename(conversationID string, title string) error {
	conversations := s.repo.Read()
	conv := findConversation(conversations, conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Title = title
	return s.commit(conversations)
}

// SwitchModel changes the conversation's selected model. The session itself
// is recreated lazily by the next send.
func (s *Service) SwitchModel(conversationID string, model models.ID) error {
	if !models.Known(model) {
		return errors.Errorf("unknown model %q", model)
	}
	conversations := s.repo.Read()
	conv := findConversation(conversations, conversationID)
	if conv == nil {
		return ErrConversationNotFound
	}
	conv.Model = string(model)
	return s.commit(conversations)
}

// RegenerateTitle derives a title from the first user message. Generation
// failures fall back to truncation inside the generator; only the durable
// write can fail here.
func (s *Service) RegenerateTitle(ctx context.Context, conversationID string) (string, error) {
	conversations := s.repo.Read()
	conv := findConversation(conversations, conversationID)
	if conv == nil {
		return "", ErrConversationNotFound
	}
	first := firstUserText(conv)
	if first == "" {
		return conv.Title, nil
	}
	title := s.titles.Generate(ctx, first)
	conv.Title = title
	if err := s.commit(conversations); err != nil {
		return "", err
	}
	return title, nil
}

// commit applies the list optimistically and persists it, rolling back the
// in-memory state when the durable write fails.
func (s *Service) commit(conversations []*chat.Conversation) error {
	snapshot := s.repo.OptimisticSet(conversations)
	if _, err := s.store.Save(conversations); err != nil {
		s.repo.Rollback(snapshot)
		log.Error().Err(err).Msg("durable write failed, rolled back")
		return err
	}
	return nil
}

func firstUserText(conv *chat.Conversation) string {
	for _, m := range conv.Messages {
		if m.Role == chat.RoleUser && m.Text != "" {
			return m.Text
		}
	}
	return ""
}
