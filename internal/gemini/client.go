// Package gemini wraps the Gemini API for JSON text generation and image
// generation.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/MimeLyc/faceless-pipeline/internal/llm"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
)

type Config struct {
	APIKey     string
	TextModel  string
	ImageModel string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// contentGenerator is the part of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	cfg    Config
	models contentGenerator
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newClient(cfg, client.Models), nil
}

func newClient(cfg Config, models contentGenerator) *Client {
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Client{cfg: cfg, models: models}
}

// GenerateJSON asks the text model for a JSON document and decodes it into out.
func (c *Client) GenerateJSON(ctx context.Context, prompt, systemPrompt string, out any) error {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	resp, err := c.generate(ctx, c.cfg.TextModel, genai.Text(prompt), config)
	if err != nil {
		return err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return errors.New("gemini returned an empty reply")
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), out); err != nil {
		return fmt.Errorf("decode gemini JSON reply: %w", err)
	}
	return nil
}

// GenerateImage renders prompt with the image model and returns the first
// inline image. aspectRatio is e.g. "16:9"; empty leaves the model default.
func (c *Client) GenerateImage(ctx context.Context, prompt, aspectRatio string) ([]byte, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if aspectRatio != "" {
		config.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}
	resp, err := c.generate(ctx, c.cfg.ImageModel, genai.Text(prompt), config)
	if err != nil {
		return nil, err
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, errors.New("gemini returned no image data")
}

func (c *Client) generate(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	delay := c.cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, model, contents, config)
		if err == nil {
			log.Debug("Gemini %s replied in %s", model, time.Since(start).Round(time.Millisecond))
			return resp, nil
		}
		if attempt >= c.cfg.MaxRetries || !Retryable(err) {
			return nil, fmt.Errorf("gemini %s: %w", model, err)
		}
		log.Warn("Gemini %s failed (attempt %d), retrying in %s: %v", model, attempt+1, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

// Retryable reports whether a Gemini error is a rate limit or server failure.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}
