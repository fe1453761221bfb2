package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"frictionlog/app/internal/config"
)

// The model's own request timeout bounds the analysis; generation for a long
// transcript can take a while.
const defaultTimeout = 2 * time.Minute

const systemPrompt = "You are an expert UX analyst. Analyze the following video transcript and provide a detailed friction log and recommendations for improvement."

// openAIAnalyzer implements Analyzer against an OpenAI-compatible streaming
// chat completion endpoint.
type openAIAnalyzer struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
}

var _ Analyzer = (*openAIAnalyzer)(nil)

// Option configures the analyzer.
type Option func(*openAIAnalyzer)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *openAIAnalyzer) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewOpenAIAnalyzer creates an Analyzer backed by the configured chat model.
func NewOpenAIAnalyzer(cfg config.OpenAIConfig, opts ...Option) (Analyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("analyzer: api key is required")
	}
	a := &openAIAnalyzer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	if a.cfg.BaseURL == "" {
		a.cfg.BaseURL = "https://api.openai.com/v1"
	}
	a.cfg.BaseURL = strings.TrimRight(a.cfg.BaseURL, "/")
	if a.cfg.ChatModel == "" {
		a.cfg.ChatModel = "gpt-4o"
	}
	if a.cfg.MaxTokens <= 0 {
		a.cfg.MaxTokens = 500
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream opens a streaming completion for the transcript. A non-2xx response
// surfaces immediately and no channel is returned; once the channel exists,
// chunks arrive in upstream order until the stream finishes or aborts.
func (a *openAIAnalyzer) Stream(ctx context.Context, transcript string) (<-chan Chunk, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.New("analyzer: transcript is required")
	}

	payload := chatRequest{
		Model: a.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Analyze this video transcript for UX friction points:\n\n" + transcript},
		},
		MaxTokens: a.cfg.MaxTokens,
		Stream:    true,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("analyzer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("analyzer: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: http %d: %s", ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := make(chan Chunk)
	go a.consume(ctx, resp.Body, out)
	return out, nil
}

// consume reads server-sent events off the response body and forwards content
// deltas until the terminator arrives. Every send races the context so an
// abandoned consumer cannot strand this goroutine on the unbuffered channel;
// cancellation closes the channel and releases the upstream connection.
func (a *openAIAnalyzer) consume(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	send := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			send(Chunk{Err: fmt.Errorf("analyzer: decode stream event: %w", err)})
			return
		}
		if event.Error != nil {
			send(Chunk{Err: fmt.Errorf("%w: %s", ErrUpstreamUnavailable, event.Error.Message)})
			return
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content != "" {
				if !send(Chunk{Text: choice.Delta.Content}) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		send(Chunk{Err: fmt.Errorf("analyzer: read stream: %w", err)})
	}
}
