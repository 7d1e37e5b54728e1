package intake

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
)

// ErrFileProcessingFailed is returned when the backend reports that an
// uploaded file could not be processed. It aborts the send attempt it
// belongs to and nothing else.
var ErrFileProcessingFailed = errors.New("file processing failed")

const DefaultPollInterval = 2 * time.Second

// Uploader pushes a file to the backend and polls its processing state on a
// fixed interval until the backend reports ready or failed.
type Uploader struct {
	client   backend.Client
	interval time.Duration
}

func NewUploader(client backend.Client, interval time.Duration) *Uploader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Uploader{client: client, interval: interval}
}

func (u *Uploader) UploadAndWait(ctx context.Context, att chat.Attachment) (backend.FileHandle, error) {
	handle, err := u.client.UploadFile(ctx, att)
	if err != nil {
		return backend.FileHandle{}, errors.Wrapf(err, "failed to upload %s", att.Name)
	}
	log.Debug().Str("file", att.Name).Str("handle", handle.Name).Msg("file uploaded, polling for processing")

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		switch handle.State {
		case backend.FileReady:
			return handle, nil
		case backend.FileFailed:
			return backend.FileHandle{}, errors.Wrapf(ErrFileProcessingFailed, "file %s", att.Name)
		case backend.FileProcessing:
			// keep polling
		}

		select {
		case <-ctx.Done():
			return backend.FileHandle{}, ctx.Err()
		case <-ticker.C:
		}

		handle, err = u.client.PollFile(ctx, handle)
		if err != nil {
			return backend.FileHandle{}, errors.Wrapf(err, "failed to poll %s", att.Name)
		}
	}
}
