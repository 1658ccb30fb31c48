package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// Client is an OpenAI-compatible API client for chat completions, image
// generation and text to speech. It is safe for concurrent use.
//
// config: Configuration for the API
// httpClient: HTTP client for API requests
// baseURL: Base URL for the API
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new client with the given configuration
//
// Example:
//
//	client, err := llm.NewClient(&cfg.LLM)
//	if err != nil {
//		log.Fatal("%v", err)
//	}
//	text, err := client.SimpleChat(ctx, "Rewrite this narration", "You are a script editor.")
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}

	return client, nil
}

// ChatCompletion creates a chat completion request
//
// ctx: Context for the request
// messages: Array of messages in the conversation
// opts: Optional configuration for the request
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (*ChatResponse, error) {
	if opts == nil {
		opts = NewChatCompletionOptions()
	}

	if opts.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: opts.SystemPrompt}}, messages...)
	}

	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.getMaxTokens(opts),
		Temperature: c.getTemperature(opts),
	}
	if opts.JSON {
		request.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	body, err := c.do(ctx, http.MethodPost, "/chat/completions", request)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	var response ChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("chat completion failed: failed to parse response: %w", err)
	}
	if response.Error != nil && response.Error.Message != "" {
		return &response, fmt.Errorf("chat completion failed: %w", response.Error)
	}
	return &response, nil
}

// SimpleChat sends one prompt and returns the assistant's reply
//
// Example:
//
//	response, err := client.SimpleChat(ctx, "What is Go?", "You are a helpful assistant.")
func (c *Client) SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	opts := NewChatCompletionOptions().WithSystemPrompt(systemPrompt)
	return c.chatContent(ctx, prompt, opts)
}

// ChatJSON sends one prompt in JSON mode and decodes the reply into out.
// Markdown code fences around the JSON are tolerated.
func (c *Client) ChatJSON(ctx context.Context, prompt, systemPrompt string, out any) error {
	opts := NewChatCompletionOptions().WithSystemPrompt(systemPrompt).WithJSON()
	content, err := c.chatContent(ctx, prompt, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripCodeFence(content)), out); err != nil {
		return fmt.Errorf("decode JSON reply: %w", err)
	}
	return nil
}

func (c *Client) chatContent(ctx context.Context, prompt string, opts *ChatCompletionOptions) (string, error) {
	response, err := c.ChatCompletion(ctx, []Message{{Role: "user", Content: prompt}}, opts)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateImage renders prompt and returns the image bytes (PNG).
// size is a provider size string such as "1536x1024".
func (c *Client) GenerateImage(ctx context.Context, prompt, size, quality string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("image prompt is empty")
	}
	request := ImageRequest{
		Model:   c.config.ImageModel,
		Prompt:  prompt,
		Size:    size,
		Quality: quality,
		N:       1,
	}

	body, err := c.do(ctx, http.MethodPost, "/images/generations", request)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	var response ImageResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("image generation failed: failed to parse response: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("image generation failed: no image data in response")
	}

	image := response.Data[0]
	switch {
	case image.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(image.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("image generation failed: decode base64: %w", err)
		}
		return data, nil
	case image.URL != "":
		return c.download(ctx, image.URL)
	default:
		return nil, fmt.Errorf("image generation failed: unexpected response format")
	}
}

// Speech synthesizes input and returns the encoded audio.
func (c *Client) Speech(ctx context.Context, request SpeechRequest) ([]byte, error) {
	if strings.TrimSpace(request.Input) == "" {
		return nil, fmt.Errorf("speech input is empty")
	}
	if request.Model == "" {
		request.Model = c.config.SpeechModel
	}
	if request.ResponseFormat == "" {
		request.ResponseFormat = "mp3"
	}

	body, err := c.do(ctx, http.MethodPost, "/audio/speech", request)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("speech synthesis failed: empty audio")
	}
	return body, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// do sends a JSON request and returns the raw response body. Rate limits,
// server errors and transport failures are retried with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	delay := c.config.retryBaseDelay()
	for attempt := 0; ; attempt++ {
		body, err := c.send(ctx, method, path, data)
		if err == nil {
			return body, nil
		}
		if attempt >= c.config.MaxRetries || !retryable(err) {
			return nil, err
		}

		log.Warn("%s %s failed (attempt %d/%d), retrying in %s: %v", method, path, attempt+1, c.config.MaxRetries+1, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

func (c *Client) send(ctx context.Context, method, path string, data []byte) ([]byte, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, responseBody)
	}
	return responseBody, nil
}

func apiError(status int, body []byte) *Error {
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		envelope.Error.StatusCode = status
		return envelope.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Message: msg, Type: "http_error", StatusCode: status}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Transport failures.
	return true
}

// StripCodeFence removes a surrounding ```json fence from a model reply.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// getMaxTokens returns the max tokens to use for the request
func (c *Client) getMaxTokens(opts *ChatCompletionOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.config.MaxTokens
}

// getTemperature returns the temperature to use for the request
func (c *Client) getTemperature(opts *ChatCompletionOptions) float64 {
	if opts.Temperature >= 0 && opts.Temperature <= 2 {
		return opts.Temperature
	}
	return c.config.Temperature
}
