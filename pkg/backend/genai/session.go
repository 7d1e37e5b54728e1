package genai

import (
	"context"
	"encoding/base64"
	"io"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/chat"
)

type chatSession struct {
	cs *genai.ChatSession
}

func (s *chatSession) SendStreaming(ctx context.Context, parts []backend.Part, onChunk func(backend.Chunk)) error {
	iter := s.cs.SendMessageStream(ctx, toParts(parts)...)

	count := 0
	for {
		resp, err := iter.Next()
		if err == iterator.Done || errors.Is(err, io.EOF) {
			log.Debug().Int("chunks_received", count).Msg("stream completed")
			return nil
		}
		if err != nil {
			log.Error().Err(err).Int("chunks_received", count).Msg("stream receive failed")
			return errors.Wrap(err, "stream receive failed")
		}
		count++

		chunk := chunkFromResponse(resp)
		onChunk(chunk)
	}
}

var _ backend.Session = (*chatSession)(nil)

func toParts(parts []backend.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Inline != nil:
			out = append(out, genai.Blob{MIMEType: p.Inline.MIMEType, Data: p.Inline.Data})
		case p.FileURI != "":
			out = append(out, genai.FileData{MIMEType: p.FileMIME, URI: p.FileURI})
		default:
			out = append(out, genai.Text(p.Text))
		}
	}
	return out
}

func toHistory(history []backend.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, c := range history {
		out = append(out, &genai.Content{
			Role:  wireRole(c.Role),
			Parts: toParts(c.Parts),
		})
	}
	return out
}

func wireRole(r chat.Role) string {
	if r == chat.RoleAI {
		return "model"
	}
	return "user"
}

// chunkFromResponse classifies every part of a streamed response into the
// transport chunk shape. Citation sources ride the candidate metadata, token
// usage rides the response metadata.
func chunkFromResponse(resp *genai.GenerateContentResponse) backend.Chunk {
	var chunk backend.Chunk
	if resp == nil {
		return chunk
	}

	for _, cand := range resp.Candidates {
		if cand.CitationMetadata != nil {
			for _, src := range cand.CitationMetadata.CitationSources {
				if src.URI == nil || *src.URI == "" {
					continue
				}
				chunk.GroundingCitations = append(chunk.GroundingCitations, chat.Citation{URI: *src.URI})
			}
		}
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch v := p.(type) {
			case genai.Text:
				chunk.Text += string(v)
			case *genai.ExecutableCode:
				chunk.ExecutableCode += v.Code
			case *genai.CodeExecutionResult:
				chunk.CodeOutput += v.Output
			case genai.Blob:
				chunk.InlineImages = append(chunk.InlineImages, chat.GeneratedImage{
					Data:     base64.StdEncoding.EncodeToString(v.Data),
					MIMEType: v.MIMEType,
				})
			}
		}
	}

	if u := resp.UsageMetadata; u != nil {
		chunk.Usage = &chat.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			CachedTokens: int(u.CachedContentTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return chunk
}
