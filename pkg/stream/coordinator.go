package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/events"
	"github.com/go-go-golems/palaver/pkg/intake"
	"github.com/go-go-golems/palaver/pkg/models"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/go-go-golems/palaver/pkg/store"
)

var (
	// ErrStreamBusy is returned when a send is attempted while another
	// conversation holds the streaming slot. Non-fatal; the caller retries.
	ErrStreamBusy = errors.New("another conversation is still streaming, please wait")

	// ErrNoCredential is returned when no API credential is configured.
	ErrNoCredential = errors.New("no API credential configured")

	ErrConversationNotFound = errors.New("conversation not found")
)

const (
	credentialErrorText = "Your API key was rejected by the backend. Open settings and enter a valid key."
	genericErrorText    = "Something went wrong while generating a response. Please try again."
	storageFullText     = "Local storage is full. Delete old conversations so new messages can be saved."

	defaultAspectRatio = "1:1"
)

// CredentialProvider hands out the current opaque API credential. An empty
// string means none is configured.
type CredentialProvider interface {
	Current() string
}

// StaticCredential is a CredentialProvider around a fixed string.
type StaticCredential string

func (s StaticCredential) Current() string { return string(s) }

// SendRequest is one user turn handed to the coordinator.
type SendRequest struct {
	ConversationID string
	Text           string
	Files          []chat.Attachment
}

// Coordinator orchestrates a single outbound generation call: it guards the
// one-stream-at-a-time invariant, runs file intake, ensures the session
// matches the resolved model, folds incoming chunks into the placeholder
// message and finalizes or rolls back on completion/error.
type Coordinator struct {
	repo     *chat.Repository
	store    *store.Store
	sessions *session.Manager
	client   backend.Client
	uploader *intake.Uploader
	sink     events.Sink
	creds    CredentialProvider

	mu sync.Mutex
	// active holds the conversation ID of the one in-flight stream, or "".
	// At most one conversation streams at a time across the whole
	// application.
	active   string
	verified bool
}

type Option func(*Coordinator)

func WithSink(sink events.Sink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

func WithUploader(u *intake.Uploader) Option {
	return func(c *Coordinator) {
		c.uploader = u
	}
}

func NewCoordinator(
	repo *chat.Repository,
	st *store.Store,
	sessions *session.Manager,
	client backend.Client,
	creds CredentialProvider,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		repo:     repo,
		store:    st,
		sessions: sessions,
		client:   client,
		creds:    creds,
		sink:     events.NullSink{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.uploader == nil {
		c.uploader = intake.NewUploader(client, intake.DefaultPollInterval)
	}
	return c
}

// Active returns the conversation ID currently holding the streaming slot,
// or "" when idle.
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) acquire(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != "" {
		return false
	}
	c.active = conversationID
	return true
}

// release clears the streaming slot if and only if it still points at the
// given conversation.
func (c *Coordinator) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == conversationID {
		c.active = ""
	}
}

func (c *Coordinator) owns(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == conversationID
}

// SendMessage runs one user turn end to end. The rejection paths (busy slot,
// missing credential, invalid files) return before any transport call and
// before any repository mutation.
func (c *Coordinator) SendMessage(ctx context.Context, req SendRequest) error {
	if !c.acquire(req.ConversationID) {
		return ErrStreamBusy
	}
	defer c.release(req.ConversationID)

	credential := c.creds.Current()
	if credential == "" {
		return ErrNoCredential
	}
	if err := c.verifyCredential(ctx, credential); err != nil {
		return err
	}

	result := intake.Validate(req.Files)
	for _, msg := range result.Errors {
		log.Warn().Str("conversation_id", req.ConversationID).Msg(msg)
	}
	files := result.Valid

	conversations := c.repo.Read()
	conv := findConversation(conversations, req.ConversationID)
	if conv == nil {
		return ErrConversationNotFound
	}

	// Escalation is sticky: once a turn required the highest-capability
	// model, every later turn in the conversation uses it too.
	if len(files) > 0 || containsURL(req.Text) {
		conv.Escalated = true
	}
	target := resolveModel(conv)

	history := mapHistory(conv.Messages)

	userMsg := chat.NewUserMessage(req.Text, files)
	placeholder := chat.NewPlaceholder()
	conv.Append(userMsg, placeholder)
	snapshot := c.repo.OptimisticSet(conversations)

	meta := events.EventMetadata{
		ConversationID: req.ConversationID,
		MessageID:      messageUUID(placeholder.ID),
		Model:          string(target),
	}
	c.publish(events.NewStartEvent(meta))

	started := time.Now()
	usage, err := c.generate(ctx, req, target, history, files, meta)
	if err != nil {
		c.resolveFailure(req, snapshot, userMsg, err, meta)
		return err
	}

	c.repo.FinalizeStreamingMessage(req.ConversationID, usage, time.Since(started), time.Now())
	c.persist(req.ConversationID)

	finalMeta := meta
	finalMeta.Usage = usage
	ms := time.Since(started).Milliseconds()
	finalMeta.DurationMs = &ms
	c.publish(events.NewFinalEvent(finalMeta, finalText(c.repo, req.ConversationID)))
	return nil
}

// generate runs the model-specific branch and returns the final token usage.
func (c *Coordinator) generate(
	ctx context.Context,
	req SendRequest,
	target models.ID,
	history []backend.Content,
	files []chat.Attachment,
	meta events.EventMetadata,
) (*chat.Usage, error) {
	if target == models.ImageGen {
		return c.generateImage(ctx, req, files, meta)
	}

	parts, cache, err := c.prepareParts(ctx, req, files, target, meta)
	if err != nil {
		return nil, err
	}

	// The model switch must complete before the payload is transmitted.
	sess, err := c.sessions.EnsureSession(ctx, req.ConversationID, target, history, cache)
	if err != nil {
		return nil, err
	}

	var (
		usage      *chat.Usage
		completion string
		thinking   string
	)
	onChunk := func(chunk backend.Chunk) {
		// A superseded or cancelled turn may still deliver buffered
		// chunks; apply only while the slot points at this conversation.
		if !c.owns(req.ConversationID) {
			return
		}
		delta := deltaFromChunk(chunk)
		c.repo.PatchStreamingMessage(req.ConversationID, delta)
		if chunk.Usage != nil {
			u := *chunk.Usage
			usage = &u
		}
		if chunk.Text != "" {
			completion += chunk.Text
			c.publish(events.NewPartialEvent(meta, chunk.Text, completion))
		}
		if chunk.Thought != "" {
			thinking += chunk.Thought
			c.publish(events.NewPartialThinkingEvent(meta, chunk.Thought, thinking))
		}
		if chunk.ExecutableCode != "" {
			c.publish(events.NewCodeDeltaEvent(meta, chunk.ExecutableCode))
		}
		if chunk.CodeOutput != "" {
			c.publish(events.NewCodeOutputDeltaEvent(meta, chunk.CodeOutput))
		}
		if len(delta.Citations) > 0 {
			c.publish(events.NewCitationEvent(meta, delta.Citations))
		}
		if len(chunk.InlineImages) > 0 {
			c.publish(events.NewImagesEvent(meta, len(chunk.InlineImages)))
		}
	}

	if err := sess.SendStreaming(ctx, parts, onChunk); err != nil {
		return nil, errors.Wrap(err, "streaming call failed")
	}
	return usage, nil
}

func (c *Coordinator) generateImage(
	ctx context.Context,
	req SendRequest,
	files []chat.Attachment,
	meta events.EventMetadata,
) (*chat.Usage, error) {
	spec, ok := models.Lookup(models.ImageGen)
	if !ok {
		return nil, errors.New("image model missing from catalog")
	}
	c.publish(events.NewStatusEvent(meta, "generating image"))

	images, usage, err := c.client.GenerateImage(ctx, spec.Backend, req.Text, imageInputs(files), defaultAspectRatio)
	if err != nil {
		return nil, errors.Wrap(err, "image generation failed")
	}

	c.repo.PatchStreamingMessage(req.ConversationID, chat.StreamDelta{
		Text:   fmt.Sprintf("Generated %d image(s).", len(images)),
		Images: images,
	})
	c.publish(events.NewImagesEvent(meta, len(images)))
	return usage, nil
}

// prepareParts turns the text and validated files into the outbound payload.
// A single oversized cacheable document goes through the cache path: the
// document is bound into a fresh server-side cache and only the text is sent.
// Everything else rides along the message, inline below the threshold and as
// uploaded file references above it.
func (c *Coordinator) prepareParts(
	ctx context.Context,
	req SendRequest,
	files []chat.Attachment,
	target models.ID,
	meta events.EventMetadata,
) ([]backend.Part, *backend.CacheHandle, error) {
	if doc, ok := intake.CacheCandidate(files); ok {
		c.publish(events.NewStatusEvent(meta, "processing document"))
		handle, err := c.uploader.UploadAndWait(ctx, doc)
		if err != nil {
			return nil, nil, err
		}
		cache, err := c.sessions.CreateDocumentCache(ctx, target, handle)
		if err != nil {
			return nil, nil, err
		}
		c.publish(events.NewStatusEvent(meta, "document cached"))
		return []backend.Part{{Text: req.Text}}, &cache, nil
	}

	parts := make([]backend.Part, 0, len(files)+1)
	if req.Text != "" {
		parts = append(parts, backend.Part{Text: req.Text})
	}

	fileParts := make([]backend.Part, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		if intake.Inline(f) {
			att := f
			fileParts[i] = backend.Part{Inline: &att}
			continue
		}
		g.Go(func() error {
			handle, err := c.uploader.UploadAndWait(gctx, f)
			if err != nil {
				return err
			}
			fileParts[i] = backend.Part{FileURI: handle.URI, FileMIME: handle.MIMEType}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	parts = append(parts, fileParts...)

	// No new cache this turn; reuse one only if this conversation owns it.
	return parts, c.sessions.ActiveCacheFor(ctx, req.ConversationID), nil
}

// resolveFailure rolls the repository back to the pre-send snapshot, then
// re-records the turn as the user message plus a final error-state message.
// The whole conversation history survives; only the optimistic update is
// undone.
func (c *Coordinator) resolveFailure(req SendRequest, snapshot *chat.Snapshot, userMsg *chat.Message, cause error, meta events.EventMetadata) {
	log.Error().Err(cause).Str("conversation_id", req.ConversationID).Msg("generation failed")

	c.repo.Rollback(snapshot)
	text := genericErrorText
	if credentialRejected(cause) {
		text = credentialErrorText
	}

	conversations := c.repo.Read()
	conv := findConversation(conversations, req.ConversationID)
	if conv != nil {
		if len(userMsg.Attachments) > 0 || containsURL(userMsg.Text) {
			conv.Escalated = true
		}
		now := time.Now()
		errMsg := &chat.Message{
			ID:          uuid.NewString(),
			Role:        chat.RoleAI,
			Text:        text,
			CompletedAt: &now,
		}
		conv.Append(userMsg, errMsg)
		c.repo.OptimisticSet(conversations)
		c.persist(req.ConversationID)
	}

	c.publish(events.NewErrorEvent(meta, errors.New(text)))
}

// persist writes the current snapshot durably. A full store is surfaced as a
// distinct status and never unwinds the in-memory state; only the persistence
// step failed.
func (c *Coordinator) persist(conversationID string) {
	if _, err := c.store.Save(c.repo.Read()); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			log.Warn().Err(err).Msg("durable store is full")
			c.publish(events.NewStatusEvent(events.EventMetadata{ConversationID: conversationID}, storageFullText))
			return
		}
		log.Error().Err(err).Msg("failed to persist conversations")
	}
}

func (c *Coordinator) verifyCredential(ctx context.Context, credential string) error {
	c.mu.Lock()
	verified := c.verified
	c.mu.Unlock()
	if verified {
		return nil
	}
	if err := c.client.Verify(ctx, credential); err != nil {
		return errors.Wrap(err, "credential verification failed")
	}
	c.mu.Lock()
	c.verified = true
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) publish(e events.Event) {
	if err := c.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish event")
	}
}

// resolveModel picks the backend target for a turn. The image-generation
// variant always wins; otherwise an escalated conversation uses the
// highest-capability model.
func resolveModel(conv *chat.Conversation) models.ID {
	selected := models.ID(conv.Model)
	if selected == models.ImageGen {
		return selected
	}
	if conv.Escalated {
		return models.Escalated()
	}
	return selected
}

func deltaFromChunk(chunk backend.Chunk) chat.StreamDelta {
	d := chat.StreamDelta{
		Text:           chunk.Text,
		LongText:       chunk.LongText,
		Thoughts:       chunk.Thought,
		ExecutableCode: chunk.ExecutableCode,
		CodeOutput:     chunk.CodeOutput,
		Usage:          chunk.Usage,
	}
	if len(chunk.InlineImages) > 0 {
		d.CodeImages = chunk.InlineImages
	}
	if len(chunk.URLCitations) > 0 || len(chunk.GroundingCitations) > 0 {
		d.Citations = append(append([]chat.Citation{}, chunk.URLCitations...), chunk.GroundingCitations...)
	}
	return d
}

// mapHistory converts finalized transcript entries to the shape the
// transport replays as session history.
func mapHistory(messages []*chat.Message) []backend.Content {
	out := make([]backend.Content, 0, len(messages))
	for _, m := range messages {
		if m.Streaming() || m.Text == "" {
			continue
		}
		out = append(out, backend.Content{
			Role:  m.Role,
			Parts: []backend.Part{{Text: m.Text}},
		})
	}
	return out
}

func findConversation(conversations []*chat.Conversation, id string) *chat.Conversation {
	for _, c := range conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func imageInputs(files []chat.Attachment) []chat.Attachment {
	var out []chat.Attachment
	for _, f := range files {
		if strings.HasPrefix(f.MIMEType, "image/") {
			out = append(out, f)
		}
	}
	return out
}

func containsURL(text string) bool {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") ||
			strings.HasPrefix(field, "https://") ||
			strings.HasPrefix(field, "www.") {
			return true
		}
	}
	return false
}

func credentialRejected(err error) bool {
	s := err.Error()
	return strings.Contains(s, "API key not valid") ||
		strings.Contains(s, "API_KEY_INVALID") ||
		strings.Contains(s, "401")
}

func finalText(repo *chat.Repository, conversationID string) string {
	conv := findConversation(repo.Read(), conversationID)
	if conv == nil || len(conv.Messages) == 0 {
		return ""
	}
	return conv.Messages[len(conv.Messages)-1].Text
}

func messageUUID(id string) uuid.UUID {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return u
}
