package imagegen

import (
	"context"
	"fmt"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// OpenAIImages is the image call of llm.Client.
type OpenAIImages interface {
	GenerateImage(ctx context.Context, prompt, size, quality string) ([]byte, error)
}

// GeminiImages is the image call of gemini.Client.
type GeminiImages interface {
	GenerateImage(ctx context.Context, prompt, aspectRatio string) ([]byte, error)
}

type openAIProvider struct {
	client  OpenAIImages
	quality string
}

// NewOpenAIProvider renders through an OpenAI-compatible images endpoint at
// the platform's native image size.
func NewOpenAIProvider(client OpenAIImages, quality string) Provider {
	if quality == "" {
		quality = "high"
	}
	return &openAIProvider{client: client, quality: quality}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Render(ctx context.Context, prompt string, platform script.Platform) ([]byte, error) {
	w, h := platform.ImageSize()
	return p.client.GenerateImage(ctx, prompt, fmt.Sprintf("%dx%d", w, h), p.quality)
}

type geminiProvider struct {
	client GeminiImages
}

func NewGeminiProvider(client GeminiImages) Provider {
	return &geminiProvider{client: client}
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Render(ctx context.Context, prompt string, platform script.Platform) ([]byte, error) {
	return p.client.GenerateImage(ctx, prompt, platform.AspectRatio())
}
