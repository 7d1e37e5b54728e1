package store

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/models"
)

type memoryBackend struct {
	slots    map[string][]byte
	writeErr error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{slots: map[string][]byte{}}
}

func (m *memoryBackend) Read(slot string) ([]byte, bool, error) {
	data, ok := m.slots[slot]
	return data, ok, nil
}

func (m *memoryBackend) Write(slot string, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.slots[slot] = data
	return nil
}

func (m *memoryBackend) Delete(slot string) error {
	delete(m.slots, slot)
	return nil
}

func finalizedAIMessage(text string) *chat.Message {
	m := chat.NewPlaceholder()
	m.Text = text
	m.Images = []chat.GeneratedImage{{Data: "aGVsbG8=", MIMEType: "image/png"}}
	m.Finalize(time.Now())
	return m
}

func TestSaveLoadRoundTripStripsGeneratedImages(t *testing.T) {
	backend := newMemoryBackend()
	s := New(backend, "")

	conv := chat.NewConversation("images", string(models.GeneralFast))
	conv.Append(chat.NewUserMessage("draw me a gopher", nil), finalizedAIMessage("done"))

	_, err := s.Save([]*chat.Conversation{conv})
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Messages, 2)

	ai := loaded[0].Messages[1]
	assert.Empty(t, ai.Images, "generated images must not survive persistence")
	assert.Equal(t, "done", ai.Text)
	require.NotNil(t, ai.CompletedAt)
}

func TestSaveDoesNotMutateInput(t *testing.T) {
	s := New(newMemoryBackend(), "")
	conv := chat.NewConversation("images", string(models.GeneralFast))
	conv.Append(finalizedAIMessage("done"))

	_, err := s.Save([]*chat.Conversation{conv})
	require.NoError(t, err)
	assert.Len(t, conv.Messages[0].Images, 1, "caller's copy keeps its images")
}

func TestSaveEmptyListRemovesSlot(t *testing.T) {
	backend := newMemoryBackend()
	s := New(backend, "")

	conv := chat.NewConversation("soon gone", string(models.GeneralFast))
	_, err := s.Save([]*chat.Conversation{conv})
	require.NoError(t, err)
	require.Contains(t, backend.slots, DefaultSlot)

	_, err = s.Save(nil)
	require.NoError(t, err)
	assert.NotContains(t, backend.slots, DefaultSlot)
}

func TestLoadAbsentSlotYieldsEmptyList(t *testing.T) {
	s := New(newMemoryBackend(), "")
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadCorruptPayloadIsDiscardedAndErased(t *testing.T) {
	backend := newMemoryBackend()
	backend.slots[DefaultSlot] = []byte("{not json")
	s := New(backend, "")

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.NotContains(t, backend.slots, DefaultSlot, "corrupt payload must be erased")
}

func TestLoadCoercesUnknownModelToDefault(t *testing.T) {
	backend := newMemoryBackend()
	s := New(backend, "")

	conv := chat.NewConversation("old model", "decommissioned-model-v1")
	_, err := s.Save([]*chat.Conversation{conv})
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, string(models.Default()), loaded[0].Model)
}

func TestQuotaErrorIsDistinct(t *testing.T) {
	backend := newMemoryBackend()
	backend.writeErr = errors.Wrap(ErrQuotaExceeded, "disk full")
	s := New(backend, "")

	conv := chat.NewConversation("too big", string(models.GeneralFast))
	_, err := s.Save([]*chat.Conversation{conv})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
}
