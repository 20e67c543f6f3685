package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/message"
)

// Local speaks the native streaming chat protocol of a local model server.
// Responses arrive as newline-delimited JSON objects, one per token batch.
type Local struct {
	BaseURL    string
	HTTPClient *http.Client
}

type localChatRequest struct {
	Model    string                `json:"model"`
	Messages []message.WireMessage `json:"messages"`
	Stream   bool                  `json:"stream"`
	Options  map[string]any        `json:"options,omitempty"`
}

type localChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// NormalizeLocalBaseURL accepts the user's base URL as given but strips a
// trailing /v1 segment, since the native protocol lives at the server root.
// A missing scheme defaults to http.
func NormalizeLocalBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/v1")
	if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return u
}

func (p *Local) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *Local) GenerateStream(ctx context.Context, msgs message.List, opts Options) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		maxTokens := opts.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		options := map[string]any{"num_predict": maxTokens}
		if opts.ContextWindow > 2000 {
			options["num_ctx"] = opts.ContextWindow
		}
		body, err := json.Marshal(localChatRequest{
			Model:    opts.Model,
			Messages: msgs.ToWire(),
			Stream:   true,
			Options:  options,
		})
		if err != nil {
			errs <- fmt.Errorf("marshal chat request: %w", err)
			return
		}

		url := NormalizeLocalBaseURL(p.BaseURL) + "/api/chat"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("new request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient().Do(req)
		if err != nil {
			errs <- fmt.Errorf("chat request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errs <- fmt.Errorf("chat request: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part localChatResponse
			if err := json.Unmarshal(line, &part); err != nil {
				errs <- fmt.Errorf("decode chat chunk: %w", err)
				return
			}
			if part.Error != "" {
				errs <- fmt.Errorf("chat error: %s", part.Error)
				return
			}
			if part.Message.Content != "" {
				select {
				case chunks <- part.Message.Content:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read chat stream: %w", err)
		}
	}()

	return chunks, errs
}

func (p *Local) Generate(ctx context.Context, msgs message.List, opts Options) (string, error) {
	start := time.Now()
	chunks, errs := p.GenerateStream(ctx, msgs, opts)
	out, err := collect(chunks, errs)
	if err != nil {
		log.Warn().Err(err).Str("model", opts.Model).Msg("local chat call failed")
		return "", err
	}
	log.Debug().Str("model", opts.Model).Int("response_chars", len(out)).
		Dur("elapsed", time.Since(start)).Msg("local chat call completed")
	return out, nil
}

func (p *Local) GenerateAndParseList(ctx context.Context, msgs message.List, opts Options) (ListResult, error) {
	out, err := p.Generate(ctx, msgs, opts)
	if err != nil {
		return ListResult{}, err
	}
	return ParseList(out), nil
}
