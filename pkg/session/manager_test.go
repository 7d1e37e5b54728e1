package session

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/models"
)

type createCall struct {
	model      string
	cfg        backend.SessionConfig
	historyLen int
}

type fakeSession struct{}

func (fakeSession) SendStreaming(context.Context, []backend.Part, func(backend.Chunk)) error {
	return nil
}

type fakeClient struct {
	created   []createCall
	deleted   []string
	deleteErr error
}

func (c *fakeClient) Verify(context.Context, string) error { return nil }

func (c *fakeClient) CreateSession(_ context.Context, model string, cfg backend.SessionConfig, history []backend.Content) (backend.Session, error) {
	c.created = append(c.created, createCall{model: model, cfg: cfg, historyLen: len(history)})
	return fakeSession{}, nil
}

func (c *fakeClient) UploadFile(context.Context, chat.Attachment) (backend.FileHandle, error) {
	return backend.FileHandle{}, nil
}

func (c *fakeClient) PollFile(_ context.Context, h backend.FileHandle) (backend.FileHandle, error) {
	return h, nil
}

func (c *fakeClient) CreateCache(_ context.Context, model string, _ string, doc backend.FileHandle) (backend.CacheHandle, error) {
	return backend.CacheHandle{Name: "caches/" + doc.Name, Model: model, Document: doc.Name}, nil
}

func (c *fakeClient) DeleteCache(_ context.Context, handle backend.CacheHandle) error {
	c.deleted = append(c.deleted, handle.Name)
	return c.deleteErr
}

func (c *fakeClient) GenerateOnce(context.Context, string, string) (backend.GenerateResult, error) {
	return backend.GenerateResult{}, nil
}

func (c *fakeClient) GenerateImage(context.Context, string, string, []chat.Attachment, string) ([]chat.GeneratedImage, *chat.Usage, error) {
	return nil, nil, nil
}

var _ backend.Client = (*fakeClient)(nil)

func TestEnsureSessionReusesMatchingSession(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralFast, nil, nil)
	require.NoError(t, err)
	_, err = m.EnsureSession(context.Background(), "conv-1", models.GeneralFast, nil, nil)
	require.NoError(t, err)

	assert.Len(t, client.created, 1)
}

func TestEnsureSessionRecreatesOnModelSwitch(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralFast, nil, nil)
	require.NoError(t, err)
	history := []backend.Content{{Role: chat.RoleUser, Parts: []backend.Part{{Text: "hi"}}}}
	_, err = m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, history, nil)
	require.NoError(t, err)

	require.Len(t, client.created, 2)
	assert.Equal(t, "gemini-2.5-pro", client.created[1].model)
	assert.Equal(t, 1, client.created[1].historyLen)

	id, ok := m.CurrentModel()
	require.True(t, ok)
	assert.Equal(t, models.GeneralPro, id)
}

func TestEnsureSessionRecreatesOnConversationSwitch(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralFast, nil, nil)
	require.NoError(t, err)
	_, err = m.EnsureSession(context.Background(), "conv-2", models.GeneralFast, nil, nil)
	require.NoError(t, err)

	assert.Len(t, client.created, 2)
}

func TestSystemInstructionOnlyOnFreshUncachedSession(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralFast, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, client.created[0].cfg.SystemInstruction)

	history := []backend.Content{{Role: chat.RoleUser, Parts: []backend.Part{{Text: "hi"}}}}
	_, err = m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, history, nil)
	require.NoError(t, err)
	assert.Empty(t, client.created[1].cfg.SystemInstruction, "non-empty history must not attach instruction")

	cache := &backend.CacheHandle{Name: "caches/doc"}
	_, err = m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, cache)
	require.NoError(t, err)
	assert.Empty(t, client.created[2].cfg.SystemInstruction, "cached sessions must not attach instruction")
	require.NotNil(t, client.created[2].cfg.Cache)
}

func TestCacheSupersessionDeletesOldHandleOnce(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	oldCache := &backend.CacheHandle{Name: "caches/old"}
	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, oldCache)
	require.NoError(t, err)

	newCache := &backend.CacheHandle{Name: "caches/new"}
	_, err = m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, newCache)
	require.NoError(t, err)

	assert.Equal(t, []string{"caches/old"}, client.deleted)
	require.NotNil(t, m.ActiveCache())
	assert.Equal(t, "caches/new", m.ActiveCache().Name)
}

func TestCacheHandleClearedWhenDeletionFails(t *testing.T) {
	client := &fakeClient{deleteErr: errors.New("remote delete failed")}
	m := NewManager(client)

	oldCache := &backend.CacheHandle{Name: "caches/old"}
	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, oldCache)
	require.NoError(t, err)

	_, err = m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"caches/old"}, client.deleted)
	assert.Nil(t, m.ActiveCache(), "handle must be cleared even when remote deletion fails")
}

func TestTeardownCacheIsIdempotent(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	cache := &backend.CacheHandle{Name: "caches/doc"}
	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, cache)
	require.NoError(t, err)

	m.TeardownCache(context.Background())
	m.TeardownCache(context.Background())

	assert.Equal(t, []string{"caches/doc"}, client.deleted)
	assert.Nil(t, m.ActiveCache())
}

func TestActiveCacheForIsScopedToOwningConversation(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	cache := &backend.CacheHandle{Name: "caches/doc"}
	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, cache)
	require.NoError(t, err)

	got := m.ActiveCacheFor(context.Background(), "conv-1")
	require.NotNil(t, got)
	assert.Equal(t, "caches/doc", got.Name)
	assert.Empty(t, client.deleted)
}

func TestActiveCacheForTearsDownForeignCache(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)

	cache := &backend.CacheHandle{Name: "caches/doc"}
	_, err := m.EnsureSession(context.Background(), "conv-1", models.GeneralPro, nil, cache)
	require.NoError(t, err)

	assert.Nil(t, m.ActiveCacheFor(context.Background(), "conv-2"))
	assert.Equal(t, []string{"caches/doc"}, client.deleted)
	assert.Nil(t, m.ActiveCacheFor(context.Background(), "conv-1"), "torn-down cache must not resurface for its old owner")
}

func TestEnsureSessionRejectsUnknownModel(t *testing.T) {
	m := NewManager(&fakeClient{})
	_, err := m.EnsureSession(context.Background(), "conv-1", "nope", nil, nil)
	require.Error(t, err)
}
