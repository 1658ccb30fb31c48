package llm

import (
	"fmt"
	"time"
)

// Config holds the configuration for an OpenAI-compatible API.
// The same endpoint serves chat completions, image generation and speech.
//
// Environment Variables (see internal/config):
// - LLM_API_KEY: API key (required)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: chat model used for script enhancement
// - LLM_IMAGE_MODEL: image model (default: gpt-image-1)
// - LLM_SPEECH_MODEL: speech model (default: tts-1-hd)
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT
// - LLM_MAX_RETRIES: retries for 429 and 5xx responses (default: 3)
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	ImageModel  string  `json:"image_model"`
	SpeechModel string  `json:"speech_model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	MaxRetries  int     `json:"max_retries"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `json:"-"`
}

const defaultRetryBaseDelay = time.Second

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// GetHeaders returns the headers for an API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}

func (c *Config) retryBaseDelay() time.Duration {
	if c.RetryBaseDelay > 0 {
		return c.RetryBaseDelay
	}
	return defaultRetryBaseDelay
}
