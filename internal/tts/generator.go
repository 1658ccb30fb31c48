// Package tts turns scene narration into MP3 files.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/llm"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// Synthesizer writes speech for text to outputPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice script.VoiceProfile, outputPath string) error
}

// Generator implements pipeline.AudioGenerator.
type Generator struct {
	synth Synthesizer
}

func NewGenerator(synth Synthesizer) (*Generator, error) {
	if synth == nil {
		return nil, errors.New("speech synthesizer is required")
	}
	return &Generator{synth: synth}, nil
}

func (g *Generator) GenerateAudio(ctx context.Context, req pipeline.AudioRequest) (string, error) {
	text := strings.TrimSpace(req.Scene.Narration)
	if text == "" {
		return "", fmt.Errorf("scene %d has no narration", req.Scene.SceneNumber)
	}
	if req.OutputPath == "" {
		return "", errors.New("audio request has no output path")
	}

	log.Debug("Synthesizing scene %d with %s at %.2fx", req.Scene.SceneNumber, req.Voice.Voice, req.Voice.Speed)
	if err := g.synth.Synthesize(ctx, text, req.Voice, req.OutputPath); err != nil {
		return "", fmt.Errorf("synthesize scene %d: %w", req.Scene.SceneNumber, err)
	}
	if !file.Exists(req.OutputPath) {
		return "", fmt.Errorf("synthesize scene %d: no audio written to %s", req.Scene.SceneNumber, req.OutputPath)
	}
	log.Info("Saved audio for scene %d: %s", req.Scene.SceneNumber, req.OutputPath)
	return req.OutputPath, nil
}

// SpeechClient is the speech call of llm.Client.
type SpeechClient interface {
	Speech(ctx context.Context, request llm.SpeechRequest) ([]byte, error)
}

// OpenAI synthesizes through an OpenAI-compatible /audio/speech endpoint.
type OpenAI struct {
	client SpeechClient
	model  string
}

func NewOpenAI(client SpeechClient, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Synthesize(ctx context.Context, text string, voice script.VoiceProfile, outputPath string) error {
	speed := voice.Speed
	if speed <= 0 {
		speed = 1.0
	}
	audio, err := o.client.Speech(ctx, llm.SpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          string(voice.Voice),
		Speed:          speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return err
	}
	return file.WriteAtomic(outputPath, audio, 0o644)
}
