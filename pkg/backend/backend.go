package backend

import (
	"context"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/models"
)

// Part is one element of an outbound message payload.
type Part struct {
	Text string
	// Inline carries small files directly in the payload.
	Inline *chat.Attachment
	// FileURI references a previously uploaded file; FileMIME is its type.
	FileURI  string
	FileMIME string
}

// Content is one transcript entry in the shape the transport replays as
// session history.
type Content struct {
	Role  chat.Role
	Parts []Part
}

// Chunk is one increment of a streamed generation.
//
// Citations arrive on two distinct metadata channels: URL-context resolution
// and grounding/search results (the latter may carry a place identifier for
// location grounding). The consumer merges both by URI.
type Chunk struct {
	Text           string
	Thought        string
	ExecutableCode string
	CodeOutput     string

	// LongText carries the extended answer variant for transports that
	// return a short answer and a long-form one side by side. The Gemini
	// SDK does not produce it; clients that do can stream it through the
	// same pipeline as Text.
	LongText string

	// InlineImages are images returned mid-stream, typically by code
	// execution. Each chunk's list replaces the previous one.
	InlineImages []chat.GeneratedImage

	URLCitations       []chat.Citation
	GroundingCitations []chat.Citation

	// Usage is set on the closing chunk of a stream.
	Usage *chat.Usage
}

type FileState string

const (
	FileProcessing FileState = "processing"
	FileReady      FileState = "ready"
	FileFailed     FileState = "failed"
)

// FileHandle references a file uploaded to the backend.
type FileHandle struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
}

// CacheHandle references a server-side context cache. Document is the
// content key of the document the cache was built from.
type CacheHandle struct {
	Name     string
	Model    string
	Document string
}

// SessionConfig carries per-session backend configuration.
type SessionConfig struct {
	SystemInstruction string
	Tools             []models.Tool
	Cache             *CacheHandle
}

// Session is an opaque backend conversation context bound to one model.
type Session interface {
	// SendStreaming transmits the payload and invokes onChunk for every
	// increment until the stream ends. It returns only after the stream is
	// drained or fails.
	SendStreaming(ctx context.Context, parts []Part, onChunk func(Chunk)) error
}

// GenerateResult is the outcome of a single-shot text generation.
type GenerateResult struct {
	Text  string
	Usage *chat.Usage
}

// Client is the transport contract against the AI backend. The core treats
// it as an external collaborator; no wire format is defined here.
type Client interface {
	// Verify performs one round-trip to validate an opaque credential.
	Verify(ctx context.Context, credential string) error

	CreateSession(ctx context.Context, model string, cfg SessionConfig, history []Content) (Session, error)

	UploadFile(ctx context.Context, att chat.Attachment) (FileHandle, error)
	// PollFile re-reads the processing state of an uploaded file.
	PollFile(ctx context.Context, handle FileHandle) (FileHandle, error)

	CreateCache(ctx context.Context, model string, systemInstruction string, doc FileHandle) (CacheHandle, error)
	DeleteCache(ctx context.Context, handle CacheHandle) error

	GenerateOnce(ctx context.Context, model string, prompt string) (GenerateResult, error)
	GenerateImage(ctx context.Context, model string, prompt string, images []chat.Attachment, aspectRatio string) ([]chat.GeneratedImage, *chat.Usage, error)
}
