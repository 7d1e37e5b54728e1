package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/models"
)

// Manager owns the backend session handle for the conversation in focus and
// the server-side context cache handle. No other component reads or mutates
// either; all access goes through the public operations here.
type Manager struct {
	client backend.Client

	mu             sync.Mutex
	session        backend.Session
	conversationID string
	model          models.ID
	cache          *backend.CacheHandle
	// cacheOwner is the conversation the active cache was built for. A
	// cache never crosses conversations; a lookup from any other
	// conversation tears it down.
	cacheOwner string
}

func NewManager(client backend.Client) *Manager {
	return &Manager{client: client}
}

// EnsureSession guarantees a live session for the given conversation, model
// and cache, recreating it when any of the three differs from the current
// one. A new session is seeded with the full replayed history; a model
// system instruction is attached only when the history is empty and no cache
// is reused.
//
// When the new request does not reuse the active cache, the old cache is
// deleted first, best-effort: deletion failures are logged and the local
// handle is cleared regardless, so a failed remote delete can never block
// future cache replacement.
func (m *Manager) EnsureSession(ctx context.Context, conversationID string, id models.ID, history []backend.Content, cache *backend.CacheHandle) (backend.Session, error) {
	spec, ok := models.Lookup(id)
	if !ok {
		return nil, errors.Errorf("unknown model %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sameCache := cacheEqual(m.cache, cache)
	if m.session != nil && m.conversationID == conversationID && m.model == id && sameCache {
		return m.session, nil
	}

	if m.cache != nil && !sameCache {
		m.deleteCacheLocked(ctx)
	}

	cfg := backend.SessionConfig{
		Tools: spec.Tools,
		Cache: cache,
	}
	if len(history) == 0 && cache == nil {
		cfg.SystemInstruction = spec.SystemInstruction
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("model", string(id)).
		Str("backend_model", spec.Backend).
		Int("history_len", len(history)).
		Bool("cached", cache != nil).
		Msg("creating backend session")

	sess, err := m.client.CreateSession(ctx, spec.Backend, cfg, history)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create backend session")
	}

	m.session = sess
	m.conversationID = conversationID
	m.model = id
	if cache != nil {
		c := *cache
		m.cache = &c
		m.cacheOwner = conversationID
	} else {
		m.cache = nil
		m.cacheOwner = ""
	}
	return sess, nil
}

// CreateDocumentCache builds a server-side context cache from a processed
// document, bound to the given model's backend variant and carrying its
// system instruction.
func (m *Manager) CreateDocumentCache(ctx context.Context, id models.ID, doc backend.FileHandle) (backend.CacheHandle, error) {
	spec, ok := models.Lookup(id)
	if !ok {
		return backend.CacheHandle{}, errors.Errorf("unknown model %q", id)
	}
	handle, err := m.client.CreateCache(ctx, spec.Backend, spec.SystemInstruction, doc)
	if err != nil {
		return backend.CacheHandle{}, errors.Wrap(err, "failed to create context cache")
	}
	return handle, nil
}

// TeardownCache deletes the active cache if present. Idempotent; the local
// handle is cleared whatever the remote deletion outcome.
func (m *Manager) TeardownCache(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return
	}
	m.deleteCacheLocked(ctx)
}

// ActiveCache returns a copy of the current cache handle, or nil.
func (m *Manager) ActiveCache() *backend.CacheHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return nil
	}
	c := *m.cache
	return &c
}

// ActiveCacheFor returns the cache handle bound to the given conversation,
// or nil. A cache owned by a different conversation is stale by definition
// and is torn down on the spot, so a turn in conversation B can never be
// grounded in a document cached for conversation A.
func (m *Manager) ActiveCacheFor(ctx context.Context, conversationID string) *backend.CacheHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return nil
	}
	if m.cacheOwner != conversationID {
		log.Debug().
			Str("cache", m.cache.Name).
			Str("owner", m.cacheOwner).
			Str("conversation_id", conversationID).
			Msg("dropping cache owned by another conversation")
		m.deleteCacheLocked(ctx)
		return nil
	}
	c := *m.cache
	return &c
}

// CurrentModel returns the logical model of the live session, if any.
func (m *Manager) CurrentModel() (models.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model, m.session != nil
}

// deleteCacheLocked removes the active cache remotely, best-effort. The
// local handle is cleared on every exit path so the reference can never
// leak past a failed remote delete.
func (m *Manager) deleteCacheLocked(ctx context.Context) {
	handle := *m.cache
	defer func() {
		m.cache = nil
		m.cacheOwner = ""
	}()
	if err := m.client.DeleteCache(ctx, handle); err != nil {
		log.Warn().Err(err).Str("cache", handle.Name).Msg("best-effort cache deletion failed")
	}
}

func cacheEqual(a, b *backend.CacheHandle) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Name == b.Name
}
