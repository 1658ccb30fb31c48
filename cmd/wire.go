package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/enhance"
	"github.com/MimeLyc/faceless-pipeline/internal/gemini"
	"github.com/MimeLyc/faceless-pipeline/internal/imagegen"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/llm"
	"github.com/MimeLyc/faceless-pipeline/internal/media"
	"github.com/MimeLyc/faceless-pipeline/internal/persistence"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/internal/subtitle"
	"github.com/MimeLyc/faceless-pipeline/internal/thumbnail"
	"github.com/MimeLyc/faceless-pipeline/internal/tts"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// storage is the persistence selected by STORAGE_BACKEND. For the file
// backend both stores are nil: jobs live in memory and checkpoints are
// written next to the output of each niche.
type storage struct {
	jobs        jobs.Store
	checkpoints checkpoint.Store
	close       func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		st, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, err
		}
		log.Info("Using sqlite storage at %s", cfg.DBPath())
		return &storage{jobs: st, checkpoints: st, close: func() { _ = st.Close() }}, nil
	case config.StoragePostgres:
		st, err := persistence.NewPostgresStore(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("Using postgres storage")
		return &storage{jobs: st, checkpoints: st, close: st.Close}, nil
	default:
		return &storage{close: func() {}}, nil
	}
}

// checkpointStore returns where the checkpoints of niche are kept.
func (s *storage) checkpointStore(cfg *config.Config, n script.Niche) (checkpoint.Store, error) {
	if s.checkpoints != nil {
		return s.checkpoints, nil
	}
	return checkpoint.NewFileStore(pipeline.NewLayout(cfg.Pipeline.OutputDir).CheckpointDir(n))
}

func pipelineConfig(cfg config.PipelineConfig) pipeline.Config {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return pipeline.Config{
		OutputDir:        cfg.OutputDir,
		ImageConcurrency: cfg.MaxConcurrentImages,
		AudioConcurrency: cfg.MaxConcurrentTTS,
		VideoConcurrency: cfg.MaxConcurrentVideos,
		EnhanceTimeout:   sec(cfg.EnhanceTimeout),
		ImageTimeout:     sec(cfg.ImageTimeout),
		AudioTimeout:     sec(cfg.TTSTimeout),
		VideoTimeout:     sec(cfg.VideoTimeout),
		ThumbnailTimeout: sec(cfg.ThumbnailTimeout),
		SubtitleTimeout:  sec(cfg.SubtitleTimeout),
		DeleteCompleted:  cfg.DeleteCompletedCheckpoints,
	}
}

// clients holds the model API clients a configuration selects. Unused ones stay nil.
type clients struct {
	openai *llm.Client
	gemini *gemini.Client
}

func newClients(ctx context.Context, cfg *config.Config) (*clients, error) {
	if err := cfg.RequireProviders(); err != nil {
		return nil, err
	}

	ret := &clients{}
	if cfg.Enhance.Provider == config.ProviderOpenAI || cfg.Image.Provider == config.ProviderOpenAI || cfg.TTS.Provider == config.ProviderOpenAI {
		c, err := llm.NewClient(&llm.Config{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			ImageModel:  cfg.LLM.ImageModel,
			SpeechModel: cfg.LLM.SpeechModel,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			SiteURL:     cfg.LLM.SiteURL,
			AppName:     cfg.LLM.AppName,
		})
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		ret.openai = c
	}
	if cfg.Enhance.Provider == config.ProviderGemini || cfg.Image.Provider == config.ProviderGemini {
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:     cfg.Gemini.APIKey,
			TextModel:  cfg.Gemini.TextModel,
			ImageModel: cfg.Gemini.ImageModel,
			Timeout:    time.Duration(cfg.Gemini.Timeout) * time.Second,
			MaxRetries: cfg.Gemini.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		ret.gemini = c
	}
	return ret, nil
}

// buildPipeline wires the orchestrator and its collaborators for cfg.
func buildPipeline(ctx context.Context, cfg *config.Config, checkpoints checkpoint.Store) (*pipeline.Orchestrator, error) {
	c, err := newClients(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var enhancer *enhance.Enhancer
	var images imagegen.Provider
	if cfg.Enhance.Provider == config.ProviderGemini {
		enhancer = enhance.New(c.gemini.GenerateJSON)
	} else {
		enhancer = enhance.New(c.openai.ChatJSON)
	}
	if cfg.Image.Provider == config.ProviderGemini {
		images = imagegen.NewGeminiProvider(c.gemini)
	} else {
		images = imagegen.NewOpenAIProvider(c.openai, cfg.Image.Quality)
	}
	imageGen, err := imagegen.NewGenerator(images)
	if err != nil {
		return nil, err
	}

	var synth tts.Synthesizer
	if cfg.TTS.Provider == config.ProviderCommand {
		cmd, err := tts.NewCommand(cfg.TTS.Command, cfg.TTS.EdgeVoice)
		if err != nil {
			return nil, err
		}
		synth = cmd
	} else {
		synth = tts.NewOpenAI(c.openai, cfg.LLM.SpeechModel)
	}
	audioGen, err := tts.NewGenerator(synth)
	if err != nil {
		return nil, err
	}

	op := media.NewOperator(
		media.WithBinaries(cfg.Media.FFmpegPath, cfg.Media.FFprobePath),
		media.WithFPS(cfg.Media.FPS),
		media.WithKenBurns(cfg.Media.KenBurns),
	)

	log.Debug("Pipeline providers: enhance=%s image=%s tts=%s", cfg.Enhance.Provider, images.Name(), cfg.TTS.Provider)
	return pipeline.New(pipelineConfig(cfg.Pipeline), pipeline.Dependencies{
		Enhancer:    enhancer,
		Images:      imageGen,
		Audio:       audioGen,
		Video:       media.NewAssembler(op, media.WithMusicVolume(cfg.Media.MusicVolume), media.WithClipWorkers(cfg.Media.ClipWorkers)),
		Thumbnails:  thumbnail.NewGenerator(op),
		Subtitles:   subtitle.NewGenerator(op),
		Checkpoints: checkpoints,
		Voices:      cfg.VoiceTable(),
	})
}
