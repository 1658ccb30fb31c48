// Package imagegen renders scene images through an image model and stores
// them as PNG files.
package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"

	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// Provider renders a prompt for a platform and returns encoded image bytes.
type Provider interface {
	Name() string
	Render(ctx context.Context, prompt string, p script.Platform) ([]byte, error)
}

// Generator implements pipeline.ImageGenerator.
type Generator struct {
	provider Provider
}

func NewGenerator(provider Provider) (*Generator, error) {
	if provider == nil {
		return nil, errors.New("image provider is required")
	}
	return &Generator{provider: provider}, nil
}

func (g *Generator) GenerateImage(ctx context.Context, req pipeline.ImageRequest) (string, error) {
	if req.Script == nil {
		return "", errors.New("image request has no script")
	}
	if req.OutputPath == "" {
		return "", errors.New("image request has no output path")
	}

	prompt := BuildPrompt(req.Script, req.Scene, req.Platform)
	log.Debug("Rendering scene %d for %s with %s", req.Scene.SceneNumber, req.Platform, g.provider.Name())

	data, err := g.provider.Render(ctx, prompt, req.Platform)
	if err != nil {
		return "", fmt.Errorf("render scene %d (%s): %w", req.Scene.SceneNumber, req.Platform, err)
	}
	data, err = toPNG(data)
	if err != nil {
		return "", fmt.Errorf("scene %d (%s): %w", req.Scene.SceneNumber, req.Platform, err)
	}
	if err := file.WriteAtomic(req.OutputPath, data, 0o644); err != nil {
		return "", err
	}

	log.Info("Saved image for scene %d (%s): %s", req.Scene.SceneNumber, req.Platform, req.OutputPath)
	return req.OutputPath, nil
}

// toPNG checks that data is a decodable image and re-encodes anything that
// is not already PNG.
func toPNG(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("provider returned invalid image data: %w", err)
	}
	if format == "png" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
