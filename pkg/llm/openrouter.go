package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/everme/stockagent/pkg/errors"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	sseDataPrefix        = "data: "
	sseDoneSentinel      = "[DONE]"
)

// OpenRouterProvider implements Provider and StreamingProvider against the
// OpenRouter chat-completions API (OpenAI-compatible wire format).
type OpenRouterProvider struct {
	baseURL string
	apiKey  string
	referer string
	title   string
	timeout time.Duration

	// client bounds non-streaming calls end to end. streamClient carries no
	// total deadline: a healthy SSE stream may outlive any fixed timeout, so
	// only its connect and response-header phases are bounded.
	client       *http.Client
	streamClient *http.Client
}

// OpenRouterOption configures the provider.
type OpenRouterOption func(*OpenRouterProvider)

// WithBaseURL overrides the API base URL (for proxies or tests). The
// chat-completions path is appended to it.
func WithBaseURL(url string) OpenRouterOption {
	return func(p *OpenRouterProvider) {
		p.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithTimeout sets the request timeout. Non-streaming calls are bounded end
// to end; streaming calls apply it up to the response headers and then let
// the body run for as long as the server keeps sending.
func WithTimeout(d time.Duration) OpenRouterOption {
	return func(p *OpenRouterProvider) {
		p.timeout = d
	}
}

// WithAppInfo sets the HTTP-Referer and X-Title attribution headers.
func WithAppInfo(referer, title string) OpenRouterOption {
	return func(p *OpenRouterProvider) {
		p.referer = referer
		p.title = title
	}
}

// NewOpenRouter creates an OpenRouter provider with the given API key.
func NewOpenRouter(apiKey string, opts ...OpenRouterOption) *OpenRouterProvider {
	p := &OpenRouterProvider{
		baseURL: defaultOpenRouterURL,
		apiKey:  apiKey,
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.client = &http.Client{Timeout: p.timeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = p.timeout
	p.streamClient = &http.Client{Transport: transport}
	return p
}

type openRouterRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
}

type openRouterChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type openRouterResponse struct {
	Choices []openRouterChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

type openRouterStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat sends a non-streaming chat request and returns the full response,
// including any tool calls the model decided on.
func (p *OpenRouterProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var orResp openRouterResponse
	if err := json.NewDecoder(resp.Body).Decode(&orResp); err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to decode completion response", err)
	}
	if len(orResp.Choices) == 0 {
		return nil, errors.Newf(errors.CodeLLMError, "completion response has no choices")
	}

	msg := orResp.Choices[0].Message
	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
		Usage:     orResp.Usage,
	}, nil
}

// ChatStream sends a streaming chat request and returns a channel of text
// chunks decoded from the SSE response. Malformed frames are skipped; the
// stream ends on the [DONE] sentinel or when the transport closes.
func (p *OpenRouterProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 100)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Error: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, sseDataPrefix) {
				continue
			}
			data := strings.TrimPrefix(line, sseDataPrefix)
			if data == sseDoneSentinel {
				chunks <- StreamChunk{Done: true}
				return
			}

			var event openRouterStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				slog.Debug("skipping malformed stream frame", "error", err)
				continue
			}

			chunk := StreamChunk{Usage: event.Usage}
			if len(event.Choices) > 0 {
				chunk.Content = event.Choices[0].Delta.Content
			}
			if chunk.Content == "" && chunk.Usage == nil {
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			chunks <- StreamChunk{Error: errors.New(errors.CodeLLMError, "stream transport failed", err)}
		}
	}()

	return chunks, nil
}

func (p *OpenRouterProvider) post(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	orReq := openRouterRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Tools:       req.Tools,
	}
	if len(req.Tools) > 0 {
		orReq.ToolChoice = "auto"
	}

	body, err := json.Marshal(orReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to marshal completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to create http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		httpReq.Header.Set("X-Title", p.title)
	}

	client := p.client
	if stream {
		client = p.streamClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "completion api call failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.Newf(errors.CodeLLMError, "completion api returned status %d: %s",
			resp.StatusCode, fmt.Sprintf("%.200s", string(respBody)))
	}
	return resp, nil
}

// Ensure OpenRouterProvider implements both provider interfaces.
var (
	_ Provider          = (*OpenRouterProvider)(nil)
	_ StreamingProvider = (*OpenRouterProvider)(nil)
)
