package genai

import (
	"context"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/backend"
)

// cacheTTL bounds how long a document cache outlives the turn that built it.
const cacheTTL = time.Hour

func (c *Client) CreateCache(ctx context.Context, model string, systemInstruction string, doc backend.FileHandle) (backend.CacheHandle, error) {
	cc := &genai.CachedContent{
		Model: model,
		Contents: []*genai.Content{
			{
				Role:  "user",
				Parts: []genai.Part{genai.FileData{MIMEType: doc.MIMEType, URI: doc.URI}},
			},
		},
		Expiration: genai.ExpireTimeOrTTL{TTL: cacheTTL},
	}
	if systemInstruction != "" {
		cc.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemInstruction)},
		}
	}

	created, err := c.gc.CreateCachedContent(ctx, cc)
	if err != nil {
		return backend.CacheHandle{}, errors.Wrapf(err, "failed to cache %s", doc.Name)
	}
	log.Debug().Str("cache", created.Name).Str("document", doc.Name).Msg("context cache created")
	return backend.CacheHandle{
		Name:     created.Name,
		Model:    created.Model,
		Document: doc.Name,
	}, nil
}

func (c *Client) DeleteCache(ctx context.Context, handle backend.CacheHandle) error {
	if err := c.gc.DeleteCachedContent(ctx, handle.Name); err != nil {
		return errors.Wrapf(err, "failed to delete cache %s", handle.Name)
	}
	return nil
}
