// Package translate turns transcribed segment text into the target language.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/dubsync/internal/timesync"
)

// Translator translates one utterance.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

const systemPrompt = `You translate short spoken utterances for video dubbing.
Translate the user's text from %s to %s.
Keep the meaning and register, keep it about as long as the original when spoken,
and reply with the translation only: no quotes, notes or explanations.`

// ChatTranslator uses an OpenAI-compatible chat completion endpoint.
type ChatTranslator struct {
	client *openai.Client
	model  string
}

// NewChatTranslator creates a translator. An empty baseURL uses the OpenAI API.
func NewChatTranslator(apiKey, baseURL, model string) *ChatTranslator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatTranslator{client: openai.NewClientWithConfig(cfg), model: model}
}

// Translate returns text rendered in target. Identical languages and blank
// text are returned unchanged without a request.
func (ct *ChatTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" || strings.EqualFold(source, target) {
		return text, nil
	}
	if source == "" {
		source = "the detected language"
	}

	resp, err := ct.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       ct.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, source, target)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("chat completion returned empty text")
	}
	return out, nil
}

// TranslateAll translates every segment with at most concurrency requests in
// flight. The result keeps segment order, indices and timing; only Text
// changes. The first failure cancels the rest.
func TranslateAll(ctx context.Context, tr Translator, segments []timesync.Segment, source, target string, concurrency int, log zerolog.Logger) ([]timesync.Segment, error) {
	out := make([]timesync.Segment, len(segments))
	copy(out, segments)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i := range out {
		i := i
		g.Go(func() error {
			text, err := tr.Translate(ctx, out[i].Text, source, target)
			if err != nil {
				return fmt.Errorf("segment %d: %w", out[i].Index, err)
			}
			out[i].Text = text
			log.Debug().Int("segment", out[i].Index).Str("text", text).Msg("segment translated")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
