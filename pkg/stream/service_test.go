package stream

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/models"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/go-go-golems/palaver/pkg/store"
	"github.com/go-go-golems/palaver/pkg/titles"
)

func newService(t *testing.T, backend *memoryBackend) (*Service, *chat.Repository, *scriptedClient) {
	t.Helper()
	client := &scriptedClient{}
	repo := chat.NewRepository()
	st := store.New(backend, store.DefaultSlot)
	svc := NewService(repo, st, session.NewManager(client), titles.NewGenerator(client))
	return svc, repo, client
}

func TestNewConversationPersistsImmediately(t *testing.T) {
	backend := newMemoryBackend()
	svc, repo, _ := newService(t, backend)

	conv, err := svc.NewConversation("First chat", models.GeneralFast)
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.Len(t, repo.Read(), 1)
	_, ok, _ := backend.Read(store.DefaultSlot)
	assert.True(t, ok)
}

func TestNewConversationRejectsUnknownModel(t *testing.T) {
	svc, repo, _ := newService(t, newMemoryBackend())
	_, err := svc.NewConversation("x", "bogus")
	require.Error(t, err)
	assert.Empty(t, repo.Read())
}

func TestCommitRollsBackOnFailedWrite(t *testing.T) {
	backend := newMemoryBackend()
	svc, repo, _ := newService(t, backend)

	_, err := svc.NewConversation("kept", models.GeneralFast)
	require.NoError(t, err)

	backend.writeErr = errors.New("disk fell off")
	_, err = svc.NewConversation("lost", models.GeneralFast)
	require.Error(t, err)

	conversations := repo.Read()
	require.Len(t, conversations, 1, "failed write must leave the prior snapshot")
	assert.Equal(t, "kept", conversations[0].Title)
}

func TestDeleteRemovesConversationAndPersists(t *testing.T) {
	backend := newMemoryBackend()
	svc, repo, _ := newService(t, backend)

	conv, err := svc.NewConversation("doomed", models.GeneralFast)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), conv.ID))
	assert.Empty(t, repo.Read())
	_, ok, _ := backend.Read(store.DefaultSlot)
	assert.False(t, ok, "empty list deletes the slot")
}

func TestDeleteUnknownConversation(t *testing.T) {
	svc, _, _ := newService(t, newMemoryBackend())
	err := svc.Delete(context.Background(), "nope")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRenameAndSwitchModel(t *testing.T) {
	svc, repo, _ := newService(t, newMemoryBackend())
	conv, err := svc.NewConversation("old name", models.GeneralFast)
	require.NoError(t, err)

	require.NoError(t, svc.Rename(conv.ID, "new name"))
	require.NoError(t, svc.SwitchModel(conv.ID, models.GeneralPro))
	require.Error(t, svc.SwitchModel(conv.ID, "bogus"))

	got := findConversation(repo.Read(), conv.ID)
	require.NotNil(t, got)
	assert.Equal(t, "new name", got.Title)
	assert.Equal(t, string(models.GeneralPro), got.Model)
}

func TestRegenerateTitleUsesFirstUserMessage(t *testing.T) {
	svc, repo, client := newService(t, newMemoryBackend())
	conv, err := svc.NewConversation("untitled", models.GeneralFast)
	require.NoError(t, err)

	conversations := repo.Read()
	withMessage := findConversation(conversations, conv.ID)
	withMessage.Append(chat.NewUserMessage("how do tides work", nil))
	repo.OptimisticSet(conversations)

	title, err := svc.RegenerateTitle(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "title", title)
	assert.Contains(t, client.calls(), "generateOnce")
}

func TestRegenerateTitleOnEmptyConversationKeepsTitle(t *testing.T) {
	svc, _, client := newService(t, newMemoryBackend())
	conv, err := svc.NewConversation("untitled", models.GeneralFast)
	require.NoError(t, err)

	title, err := svc.RegenerateTitle(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "untitled", title)
	assert.NotContains(t, client.calls(), "generateOnce")
}

func TestLoadStartsEmptyWhenSlotAbsent(t *testing.T) {
	svc, repo, _ := newService(t, newMemoryBackend())
	require.NoError(t, svc.Load())
	assert.Empty(t, repo.Read())
}
