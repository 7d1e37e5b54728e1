// Package genai adapts the Google generative AI SDK to the transport
// contract the coordinator consumes.
package genai

import (
	"context"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/models"
)

type Client struct {
	gc *genai.Client
}

func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	gc, err := genai.NewClient(ctx, all...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return &Client{gc: gc}, nil
}

func (c *Client) Close() error {
	return c.gc.Close()
}

// Verify performs one cheap round-trip with the given credential. A token
// count against the default model is the smallest call that exercises
// authentication.
func (c *Client) Verify(ctx context.Context, credential string) error {
	probe, err := genai.NewClient(ctx, option.WithAPIKey(credential))
	if err != nil {
		return errors.Wrap(err, "failed to create probe client")
	}
	defer func() {
		if err := probe.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close probe client")
		}
	}()

	spec, _ := models.Lookup(models.Default())
	if _, err := probe.GenerativeModel(spec.Backend).CountTokens(ctx, genai.Text("ping")); err != nil {
		return errors.Wrap(err, "credential rejected")
	}
	return nil
}

func (c *Client) CreateSession(_ context.Context, model string, cfg backend.SessionConfig, history []backend.Content) (backend.Session, error) {
	var m *genai.GenerativeModel
	if cfg.Cache != nil {
		m = c.gc.GenerativeModelFromCachedContent(&genai.CachedContent{
			Name:  cfg.Cache.Name,
			Model: cfg.Cache.Model,
		})
	} else {
		m = c.gc.GenerativeModel(model)
	}

	if cfg.SystemInstruction != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(cfg.SystemInstruction)},
		}
	}
	m.Tools = mapTools(cfg.Tools)

	cs := m.StartChat()
	cs.History = toHistory(history)
	log.Debug().Str("model", model).Int("history_len", len(history)).Bool("cached", cfg.Cache != nil).Msg("created chat session")
	return &chatSession{cs: cs}, nil
}

func mapTools(tools []models.Tool) []*genai.Tool {
	var out []*genai.Tool
	for _, t := range tools {
		switch t {
		case models.ToolWebSearch, models.ToolMapsGrounding:
			out = append(out, &genai.Tool{GoogleSearchRetrieval: &genai.GoogleSearchRetrieval{}})
		case models.ToolCodeExecution:
			out = append(out, &genai.Tool{CodeExecution: &genai.CodeExecution{}})
		case models.ToolURLContext:
			// No SDK surface for URL context; URLs in the prompt are
			// handled by search grounding instead.
		}
	}
	return out
}

var _ backend.Client = (*Client)(nil)
