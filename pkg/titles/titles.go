// Package titles derives short conversation titles from the first user
// message via a single-shot generation call, with a plain truncation
// fallback when the call fails.
package titles

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/models"
)

const (
	// MaxTitleRunes bounds what the conversation list renders.
	MaxTitleRunes = 60

	titlePrompt = `Write a title of at most six words for a conversation that starts with the following message. Reply with the title only, no quotes, no punctuation at the end.

Message:
`
)

type Generator struct {
	client backend.Client
}

func NewGenerator(client backend.Client) *Generator {
	return &Generator{client: client}
}

// Generate asks the fast model for a title. Any failure falls back to a
// truncated form of the message itself; title generation never blocks or
// fails a send.
func (g *Generator) Generate(ctx context.Context, firstMessage string) string {
	spec, ok := models.Lookup(models.Default())
	if !ok {
		return Fallback(firstMessage)
	}
	res, err := g.client.GenerateOnce(ctx, spec.Backend, titlePrompt+firstMessage)
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed, falling back to truncation")
		return Fallback(firstMessage)
	}
	title := sanitize(res.Text)
	if title == "" {
		return Fallback(firstMessage)
	}
	return title
}

// Fallback truncates the message to a displayable title.
func Fallback(message string) string {
	return sanitize(message)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, `"'`)
	if utf8.RuneCountInString(s) <= MaxTitleRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxTitleRunes-1])) + "…"
}
