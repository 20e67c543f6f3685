package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/deepresearch/internal/message"
)

// fallbackPhrases mark errors that warrant one retry against the fallback
// model. Matching is a case-insensitive substring test over the error text.
var fallbackPhrases = []string{
	"rate limit",
	"rate limits",
	"ratelimit",
	"rate_limit",
	"rate-limit",
	"context length",
	"context-length",
	"max tokens",
	"max_tokens",
}

// OpenAICompatible talks to any OpenAI-compatible HTTP endpoint through the
// standard chat-completions surface, streaming over SSE. When the primary
// call returns empty content or a rate-limit/context-length error, it
// retries exactly once against FallbackModel.
type OpenAICompatible struct {
	Client *openai.Client

	// DefaultModel scopes the rate window: only calls for this model count
	// against RequestsPerMinute.
	DefaultModel string
	// FallbackModel is used for the single retry. Empty disables fallback.
	FallbackModel string
	// RequestsPerMinute caps calls for DefaultModel inside a sliding
	// 60-second window. Zero or below disables the cap.
	RequestsPerMinute int

	windowOnce sync.Once
	window     *rateWindow
}

// NewOpenAICompatible builds a provider for the given endpoint. baseURL must
// include the /v1 prefix the endpoint serves under.
func NewOpenAICompatible(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAICompatible) limiter() *rateWindow {
	p.windowOnce.Do(func() {
		p.window = newRateWindow(p.RequestsPerMinute)
	})
	return p.window
}

func (p *OpenAICompatible) chatRequest(msgs message.List, opts Options) openai.ChatCompletionRequest {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs.ToWire() {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:     opts.Model,
		Messages:  out,
		MaxTokens: maxTokens,
	}
}

func shouldFallBack(err error, content string) bool {
	if err != nil {
		text := strings.ToLower(err.Error())
		for _, phrase := range fallbackPhrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
		return false
	}
	return strings.TrimSpace(content) == ""
}

func (p *OpenAICompatible) Generate(ctx context.Context, msgs message.List, opts Options) (string, error) {
	content, err := p.generateOnce(ctx, msgs, opts)
	if !shouldFallBack(err, content) {
		return content, err
	}
	if p.FallbackModel == "" || opts.Model == p.FallbackModel {
		return content, err
	}
	log.Warn().Err(err).Str("model", opts.Model).Str("fallback", p.FallbackModel).
		Msg("retrying with fallback model")
	fbOpts := opts
	fbOpts.Model = p.FallbackModel
	return p.generateOnce(ctx, msgs, fbOpts)
}

func (p *OpenAICompatible) generateOnce(ctx context.Context, msgs message.List, opts Options) (string, error) {
	if opts.Model == p.DefaultModel {
		if err := p.limiter().Wait(ctx); err != nil {
			return "", err
		}
	}
	resp, err := p.Client.CreateChatCompletion(ctx, p.chatRequest(msgs, opts))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAICompatible) GenerateStream(ctx context.Context, msgs message.List, opts Options) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if opts.Model == p.DefaultModel {
			if err := p.limiter().Wait(ctx); err != nil {
				errs <- err
				return
			}
		}
		req := p.chatRequest(msgs, opts)
		req.Stream = true
		stream, err := p.Client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		defer stream.Close()

		for {
			part, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- err
				return
			}
			if len(part.Choices) == 0 {
				continue
			}
			if delta := part.Choices[0].Delta.Content; delta != "" {
				select {
				case chunks <- delta:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return chunks, errs
}

func (p *OpenAICompatible) GenerateAndParseList(ctx context.Context, msgs message.List, opts Options) (ListResult, error) {
	out, err := p.Generate(ctx, msgs, opts)
	if err != nil {
		log.Warn().Err(err).Str("model", opts.Model).Msg("list-parse call failed")
		return ListResult{}, err
	}
	return ParseList(out), nil
}
