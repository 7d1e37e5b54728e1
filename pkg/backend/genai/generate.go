package genai

import (
	"context"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
)

// GenerateOnce runs a single-shot text generation with no session context.
func (c *Client) GenerateOnce(ctx context.Context, model string, prompt string) (backend.GenerateResult, error) {
	resp, err := c.gc.GenerativeModel(model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return backend.GenerateResult{}, errors.Wrap(err, "generation failed")
	}
	chunk := chunkFromResponse(resp)
	return backend.GenerateResult{Text: chunk.Text, Usage: chunk.Usage}, nil
}

// GenerateImage runs a single-shot generation against the image model. The
// SDK exposes no aspect-ratio setting, so the ratio is encoded in the prompt.
func (c *Client) GenerateImage(ctx context.Context, model string, prompt string, images []chat.Attachment, aspectRatio string) ([]chat.GeneratedImage, *chat.Usage, error) {
	if aspectRatio != "" {
		prompt = fmt.Sprintf("%s\n\nAspect ratio: %s", prompt, aspectRatio)
	}
	parts := []genai.Part{genai.Text(prompt)}
	for _, img := range images {
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}

	resp, err := c.gc.GenerativeModel(model).GenerateContent(ctx, parts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "image generation failed")
	}
	chunk := chunkFromResponse(resp)
	return chunk.InlineImages, chunk.Usage, nil
}
