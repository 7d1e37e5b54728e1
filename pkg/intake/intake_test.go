package intake

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
)

func attachment(name, mimeType string, size int) chat.Attachment {
	return chat.Attachment{Name: name, MIMEType: mimeType, Data: bytes.Repeat([]byte{0x1}, size)}
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	res := Validate([]chat.Attachment{attachment("huge.png", "image/png", MaxFileBytes+1)})
	assert.Empty(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "huge.png")
	assert.Contains(t, res.Errors[0], "too large")
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	res := Validate([]chat.Attachment{attachment("notes.docx", "application/msword", 128)})
	assert.Empty(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "notes.docx")
}

func TestValidateIsPerFileNotPerBatch(t *testing.T) {
	res := Validate([]chat.Attachment{
		attachment("ok.png", "image/png", 128),
		attachment("bad.exe", "application/x-executable", 128),
		attachment("doc.pdf", "application/pdf", 128),
	})
	require.Len(t, res.Valid, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ok.png", res.Valid[0].Name)
	assert.Equal(t, "doc.pdf", res.Valid[1].Name)
}

func TestCacheCandidateRequiresSingleOversizedPDF(t *testing.T) {
	big := attachment("big.pdf", "application/pdf", InlineThresholdBytes+1)
	small := attachment("small.pdf", "application/pdf", 128)
	img := attachment("pic.png", "image/png", InlineThresholdBytes+1)

	_, ok := CacheCandidate([]chat.Attachment{big})
	assert.True(t, ok)

	_, ok = CacheCandidate([]chat.Attachment{small})
	assert.False(t, ok, "below-threshold documents attach inline")

	_, ok = CacheCandidate([]chat.Attachment{img})
	assert.False(t, ok, "images never go through the cache path")

	_, ok = CacheCandidate([]chat.Attachment{big, small})
	assert.False(t, ok, "multiple attachments bypass caching")
}

type pollingClient struct {
	backend.Client
	states []backend.FileState
	calls  int
}

func (c *pollingClient) UploadFile(_ context.Context, att chat.Attachment) (backend.FileHandle, error) {
	return backend.FileHandle{Name: "files/abc", MIMEType: att.MIMEType, State: backend.FileProcessing}, nil
}

func (c *pollingClient) PollFile(_ context.Context, h backend.FileHandle) (backend.FileHandle, error) {
	idx := c.calls
	if idx >= len(c.states) {
		idx = len(c.states) - 1
	}
	c.calls++
	h.State = c.states[idx]
	return h, nil
}

func TestUploadAndWaitPollsUntilReady(t *testing.T) {
	client := &pollingClient{states: []backend.FileState{backend.FileProcessing, backend.FileReady}}
	u := NewUploader(client, time.Millisecond)

	handle, err := u.UploadAndWait(context.Background(), attachment("doc.pdf", "application/pdf", 128))
	require.NoError(t, err)
	assert.Equal(t, backend.FileReady, handle.State)
	assert.Equal(t, 2, client.calls)
}

func TestUploadAndWaitSurfacesProcessingFailure(t *testing.T) {
	client := &pollingClient{states: []backend.FileState{backend.FileFailed}}
	u := NewUploader(client, time.Millisecond)

	_, err := u.UploadAndWait(context.Background(), attachment("doc.pdf", "application/pdf", 128))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileProcessingFailed))
}

func TestUploadAndWaitHonorsContextCancellation(t *testing.T) {
	client := &pollingClient{states: []backend.FileState{backend.FileProcessing}}
	u := NewUploader(client, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.UploadAndWait(ctx, attachment("doc.pdf", "application/pdf", 128))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
