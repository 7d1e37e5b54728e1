package chat

import (
	"sync"
	"time"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

// Repository is the in-memory cache of all conversations and the single
// source of truth the rest of the system reads.
//
// All mutation goes through OptimisticSet / Rollback / PatchStreamingMessage;
// callers never edit the stored slice in place. Reads and writes hand out
// deep copies so two call sites can never alias the same message.
type Repository struct {
	mu            sync.RWMutex
	conversations []*Conversation
}

// Snapshot is an opaque rollback token returned by OptimisticSet.
type Snapshot struct {
	conversations []*Conversation
}

func NewRepository() *Repository {
	return &Repository{conversations: []*Conversation{}}
}

func cloneConversations(in []*Conversation) []*Conversation {
	if in == nil {
		return nil
	}
	return clone.Clone(in).([]*Conversation)
}

// Read returns the current authoritative snapshot as a deep copy.
func (r *Repository) Read() []*Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneConversations(r.conversations)
}

// OptimisticSet replaces the snapshot immediately, before any durable write
// completes, and returns the prior snapshot as a rollback token.
func (r *Repository) OptimisticSet(newList []*Conversation) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	prior := r.conversations
	r.conversations = cloneConversations(newList)
	return &Snapshot{conversations: prior}
}

// Rollback restores the snapshot captured by a prior OptimisticSet. Used when
// a durable write or remote call fails after an optimistic update.
func (r *Repository) Rollback(token *Snapshot) {
	if token == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations = token.conversations
}

// PatchStreamingMessage finds the unique in-progress AI message in the given
// conversation and applies an additive merge. A missing target is an expected
// race (the stream was cancelled or finalized before a buffered chunk
// arrived) and is silently ignored.
func (r *Repository) PatchStreamingMessage(conversationID string, delta StreamDelta) {
	if delta.Empty() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.streamingMessageLocked(conversationID)
	if msg == nil {
		log.Trace().Str("conversation_id", conversationID).Msg("no streaming placeholder, dropping delta")
		return
	}
	delta.applyTo(msg)
}

// FinalizeStreamingMessage records usage and elapsed time on the in-progress
// message and sets its completion timestamp, flipping it from streaming to
// final. Returns false if no stream was in flight.
func (r *Repository) FinalizeStreamingMessage(conversationID string, usage *Usage, elapsed time.Duration, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.streamingMessageLocked(conversationID)
	if msg == nil {
		return false
	}
	if usage != nil {
		u := *usage
		msg.Usage = &u
	}
	msg.Duration = elapsed
	msg.Finalize(at)
	return true
}

func (r *Repository) streamingMessageLocked(conversationID string) *Message {
	for _, c := range r.conversations {
		if c.ID != conversationID {
			continue
		}
		return c.StreamingMessage()
	}
	return nil
}
