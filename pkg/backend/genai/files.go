package genai

import (
	"bytes"
	"context"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
)

func (c *Client) UploadFile(ctx context.Context, att chat.Attachment) (backend.FileHandle, error) {
	f, err := c.gc.UploadFile(ctx, "", bytes.NewReader(att.Data), &genai.UploadFileOptions{
		DisplayName: att.Name,
		MIMEType:    att.MIMEType,
	})
	if err != nil {
		return backend.FileHandle{}, errors.Wrapf(err, "failed to upload %s", att.Name)
	}
	log.Debug().Str("file", att.Name).Str("name", f.Name).Msg("file uploaded")
	return fileHandle(f), nil
}

func (c *Client) PollFile(ctx context.Context, handle backend.FileHandle) (backend.FileHandle, error) {
	f, err := c.gc.GetFile(ctx, handle.Name)
	if err != nil {
		return backend.FileHandle{}, errors.Wrapf(err, "failed to get file %s", handle.Name)
	}
	return fileHandle(f), nil
}

func fileHandle(f *genai.File) backend.FileHandle {
	return backend.FileHandle{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
		State:    fileState(f.State),
	}
}

func fileState(s genai.FileState) backend.FileState {
	switch s {
	case genai.FileStateActive:
		return backend.FileReady
	case genai.FileStateFailed:
		return backend.FileFailed
	default:
		return backend.FileProcessing
	}
}
