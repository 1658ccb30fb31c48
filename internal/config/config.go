package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/icron"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// Config holds all application configuration.
// Values are resolved in order: built-in defaults, the YAML file named by
// CONFIG_FILE, environment variables (a .env file is loaded first), and
// finally Options such as WithRuntimeSettings.
//
// Environment Variables:
// LLM (OpenAI-compatible API used for enhancement, images and speech):
// - LLM_API_KEY, LLM_API_URL (default: https://api.openai.com/v1)
// - LLM_MODEL (default: gpt-4o-mini), LLM_IMAGE_MODEL, LLM_SPEECH_MODEL
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT, LLM_MAX_RETRIES
// - LLM_SITE_URL, LLM_APP_NAME
//
// Gemini:
// - GEMINI_API_KEY, GEMINI_TEXT_MODEL, GEMINI_IMAGE_MODEL, GEMINI_TIMEOUT
//
// Providers:
// - ENHANCE_PROVIDER: openai|gemini (default: openai)
// - IMAGE_PROVIDER: openai|gemini (default: openai), IMAGE_QUALITY
// - TTS_PROVIDER: openai|command (default: openai), TTS_COMMAND, TTS_EDGE_VOICE
//
// Pipeline:
// - OUTPUT_DIR (default: output)
// - MAX_CONCURRENT_IMAGES (10), MAX_CONCURRENT_TTS (10), MAX_CONCURRENT_VIDEOS (4)
// - ENHANCE_TIMEOUT, IMAGE_TIMEOUT, TTS_TIMEOUT, VIDEO_TIMEOUT,
//   THUMBNAIL_TIMEOUT, SUBTITLE_TIMEOUT (seconds)
// - PLATFORMS (default: youtube,tiktok), ENHANCE, THUMBNAILS, SUBTITLES, MUSIC_PATH
// - DELETE_COMPLETED_CHECKPOINTS
//
// Storage:
// - STORAGE_BACKEND: file|sqlite|postgres (default: file)
// - DATA_DIR (default: /app/data), DATABASE_URL (postgres)
//
// Media:
// - FFMPEG_PATH, FFPROBE_PATH, VIDEO_FPS (30), KEN_BURNS (true),
//   MUSIC_VOLUME (0.15), CLIP_WORKERS (2)
//
// Service / HTTP / Log:
// - SCRIPTS_DIR (default: /app/scripts), CRON_EXPR (default: */10 * * * *),
//   QUEUE_WORKERS (1), MAX_JOBS (1000)
// - HTTP_ADDR (:8080), UI_ENABLED, UI_STATIC_DIR (/app/web)
// - LOG_LEVEL (info), LOG_FORMAT: console|json
type Config struct {
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Gemini   GeminiConfig   `json:"gemini" yaml:"gemini"`
	Enhance  EnhanceConfig  `json:"enhance" yaml:"enhance"`
	Image    ImageConfig    `json:"image" yaml:"image"`
	TTS      TTSConfig      `json:"tts" yaml:"tts"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	Service  ServiceConfig  `json:"service" yaml:"service"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Log      LogConfig      `json:"log" yaml:"log"`

	// Voices overrides the narration voice of individual niches.
	Voices map[string]script.VoiceProfile `json:"voices,omitempty" yaml:"voices"`
}

const (
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderCommand = "command"

	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// LLMConfig holds the configuration for the OpenAI-compatible client.
type LLMConfig struct {
	APIKey      string  `json:"-" yaml:"api_key"`
	APIURL      string  `json:"api_url" yaml:"api_url"`
	Model       string  `json:"model" yaml:"model"`
	ImageModel  string  `json:"image_model" yaml:"image_model"`
	SpeechModel string  `json:"speech_model" yaml:"speech_model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Timeout     int     `json:"timeout" yaml:"timeout"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"`
	SiteURL     string  `json:"site_url" yaml:"site_url"`
	AppName     string  `json:"app_name" yaml:"app_name"`
}

type GeminiConfig struct {
	APIKey     string `json:"-" yaml:"api_key"`
	TextModel  string `json:"text_model" yaml:"text_model"`
	ImageModel string `json:"image_model" yaml:"image_model"`
	Timeout    int    `json:"timeout" yaml:"timeout"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

type EnhanceConfig struct {
	Provider string `json:"provider" yaml:"provider"`
}

type ImageConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Quality  string `json:"quality" yaml:"quality"`
}

type TTSConfig struct {
	Provider  string `json:"provider" yaml:"provider"`
	Command   string `json:"command" yaml:"command"`
	EdgeVoice string `json:"edge_voice" yaml:"edge_voice"`
}

// PipelineConfig holds run limits (timeouts in seconds) and the default
// options of queued jobs.
type PipelineConfig struct {
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	MaxConcurrentImages int `json:"max_concurrent_images" yaml:"max_concurrent_images"`
	MaxConcurrentTTS    int `json:"max_concurrent_tts" yaml:"max_concurrent_tts"`
	MaxConcurrentVideos int `json:"max_concurrent_videos" yaml:"max_concurrent_videos"`

	EnhanceTimeout   int `json:"enhance_timeout" yaml:"enhance_timeout"`
	ImageTimeout     int `json:"image_timeout" yaml:"image_timeout"`
	TTSTimeout       int `json:"tts_timeout" yaml:"tts_timeout"`
	VideoTimeout     int `json:"video_timeout" yaml:"video_timeout"`
	ThumbnailTimeout int `json:"thumbnail_timeout" yaml:"thumbnail_timeout"`
	SubtitleTimeout  int `json:"subtitle_timeout" yaml:"subtitle_timeout"`

	Platforms  string `json:"platforms" yaml:"platforms"`
	Enhance    bool   `json:"enhance" yaml:"enhance"`
	Thumbnails bool   `json:"thumbnails" yaml:"thumbnails"`
	Subtitles  bool   `json:"subtitles" yaml:"subtitles"`
	MusicPath  string `json:"music_path" yaml:"music_path"`

	DeleteCompletedCheckpoints bool `json:"delete_completed_checkpoints" yaml:"delete_completed_checkpoints"`
}

type StorageConfig struct {
	Backend     string `json:"backend" yaml:"backend"`
	DataDir     string `json:"data_dir" yaml:"data_dir"`
	DatabaseURL string `json:"-" yaml:"database_url"`
}

type MediaConfig struct {
	FFmpegPath  string  `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string  `json:"ffprobe_path" yaml:"ffprobe_path"`
	FPS         int     `json:"fps" yaml:"fps"`
	KenBurns    bool    `json:"ken_burns" yaml:"ken_burns"`
	MusicVolume float64 `json:"music_volume" yaml:"music_volume"`
	ClipWorkers int     `json:"clip_workers" yaml:"clip_workers"`
}

type ServiceConfig struct {
	ScriptsDir   string `json:"scripts_dir" yaml:"scripts_dir"`
	CronExpr     string `json:"cron_expr" yaml:"cron_expr"`
	QueueWorkers int    `json:"queue_workers" yaml:"queue_workers"`
	MaxJobs      int    `json:"max_jobs" yaml:"max_jobs"`
}

type HTTPConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	UIEnabled   bool   `json:"ui_enabled" yaml:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir" yaml:"ui_static_dir"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			APIURL:      "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			ImageModel:  "gpt-image-1",
			SpeechModel: "tts-1-hd",
			MaxTokens:   4000,
			Temperature: 0.7,
			Timeout:     120,
			MaxRetries:  3,
		},
		Gemini: GeminiConfig{
			TextModel:  "gemini-2.5-flash",
			ImageModel: "gemini-2.5-flash-image",
			Timeout:    120,
			MaxRetries: 3,
		},
		Enhance: EnhanceConfig{Provider: ProviderOpenAI},
		Image:   ImageConfig{Provider: ProviderOpenAI, Quality: "high"},
		TTS:     TTSConfig{Provider: ProviderOpenAI, EdgeVoice: "en-US-GuyNeural"},
		Pipeline: PipelineConfig{
			OutputDir:           "output",
			MaxConcurrentImages: 10,
			MaxConcurrentTTS:    10,
			MaxConcurrentVideos: 4,
			EnhanceTimeout:      120,
			ImageTimeout:        120,
			TTSTimeout:          180,
			VideoTimeout:        600,
			ThumbnailTimeout:    120,
			SubtitleTimeout:     120,
			Platforms:           "youtube,tiktok",
			Enhance:             true,
			Thumbnails:          true,
			Subtitles:           true,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			DataDir: "/app/data",
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			FPS:         30,
			KenBurns:    true,
			MusicVolume: 0.15,
			ClipWorkers: 2,
		},
		Service: ServiceConfig{
			ScriptsDir:   "/app/scripts",
			CronExpr:     "*/10 * * * *",
			QueueWorkers: 1,
			MaxJobs:      1000,
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			UIEnabled:   true,
			UIStaticDir: "/app/web",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// NewFromEnv creates a new Config instance with values from the config file,
// environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	config := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: output=%s storage=%s scripts=%s cron=%q",
		config.Pipeline.OutputDir, config.Storage.Backend, config.Service.ScriptsDir, config.Service.CronExpr)
	return config, nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// document keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides c with every variable that is set.
func (c *Config) applyEnv() {
	c.LLM.APIKey = getEnvString("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.APIURL = getEnvString("LLM_API_URL", c.LLM.APIURL)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)
	c.LLM.ImageModel = getEnvString("LLM_IMAGE_MODEL", c.LLM.ImageModel)
	c.LLM.SpeechModel = getEnvString("LLM_SPEECH_MODEL", c.LLM.SpeechModel)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvInt("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxRetries = getEnvInt("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.SiteURL = getEnvString("LLM_SITE_URL", c.LLM.SiteURL)
	c.LLM.AppName = getEnvString("LLM_APP_NAME", c.LLM.AppName)

	c.Gemini.APIKey = getEnvString("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.TextModel = getEnvString("GEMINI_TEXT_MODEL", c.Gemini.TextModel)
	c.Gemini.ImageModel = getEnvString("GEMINI_IMAGE_MODEL", c.Gemini.ImageModel)
	c.Gemini.Timeout = getEnvInt("GEMINI_TIMEOUT", c.Gemini.Timeout)
	c.Gemini.MaxRetries = getEnvInt("GEMINI_MAX_RETRIES", c.Gemini.MaxRetries)

	c.Enhance.Provider = strings.ToLower(getEnvString("ENHANCE_PROVIDER", c.Enhance.Provider))
	c.Image.Provider = strings.ToLower(getEnvString("IMAGE_PROVIDER", c.Image.Provider))
	c.Image.Quality = getEnvString("IMAGE_QUALITY", c.Image.Quality)
	c.TTS.Provider = strings.ToLower(getEnvString("TTS_PROVIDER", c.TTS.Provider))
	c.TTS.Command = getEnvString("TTS_COMMAND", c.TTS.Command)
	c.TTS.EdgeVoice = getEnvString("TTS_EDGE_VOICE", c.TTS.EdgeVoice)

	p := &c.Pipeline
	p.OutputDir = getEnvString("OUTPUT_DIR", p.OutputDir)
	p.MaxConcurrentImages = getEnvInt("MAX_CONCURRENT_IMAGES", p.MaxConcurrentImages)
	p.MaxConcurrentTTS = getEnvInt("MAX_CONCURRENT_TTS", p.MaxConcurrentTTS)
	p.MaxConcurrentVideos = getEnvInt("MAX_CONCURRENT_VIDEOS", p.MaxConcurrentVideos)
	p.EnhanceTimeout = getEnvInt("ENHANCE_TIMEOUT", p.EnhanceTimeout)
	p.ImageTimeout = getEnvInt("IMAGE_TIMEOUT", p.ImageTimeout)
	p.TTSTimeout = getEnvInt("TTS_TIMEOUT", p.TTSTimeout)
	p.VideoTimeout = getEnvInt("VIDEO_TIMEOUT", p.VideoTimeout)
	p.ThumbnailTimeout = getEnvInt("THUMBNAIL_TIMEOUT", p.ThumbnailTimeout)
	p.SubtitleTimeout = getEnvInt("SUBTITLE_TIMEOUT", p.SubtitleTimeout)
	p.Platforms = getEnvString("PLATFORMS", p.Platforms)
	p.Enhance = getEnvBool("ENHANCE", p.Enhance)
	p.Thumbnails = getEnvBool("THUMBNAILS", p.Thumbnails)
	p.Subtitles = getEnvBool("SUBTITLES", p.Subtitles)
	p.MusicPath = getEnvString("MUSIC_PATH", p.MusicPath)
	p.DeleteCompletedCheckpoints = getEnvBool("DELETE_COMPLETED_CHECKPOINTS", p.DeleteCompletedCheckpoints)

	c.Storage.Backend = strings.ToLower(getEnvString("STORAGE_BACKEND", c.Storage.Backend))
	c.Storage.DataDir = getEnvString("DATA_DIR", c.Storage.DataDir)
	c.Storage.DatabaseURL = getEnvString("DATABASE_URL", c.Storage.DatabaseURL)

	c.Media.FFmpegPath = getEnvString("FFMPEG_PATH", c.Media.FFmpegPath)
	c.Media.FFprobePath = getEnvString("FFPROBE_PATH", c.Media.FFprobePath)
	c.Media.FPS = getEnvInt("VIDEO_FPS", c.Media.FPS)
	c.Media.KenBurns = getEnvBool("KEN_BURNS", c.Media.KenBurns)
	c.Media.MusicVolume = getEnvFloat("MUSIC_VOLUME", c.Media.MusicVolume)
	c.Media.ClipWorkers = getEnvInt("CLIP_WORKERS", c.Media.ClipWorkers)

	c.Service.ScriptsDir = getEnvString("SCRIPTS_DIR", c.Service.ScriptsDir)
	c.Service.CronExpr = getEnvString("CRON_EXPR", c.Service.CronExpr)
	c.Service.QueueWorkers = getEnvInt("QUEUE_WORKERS", c.Service.QueueWorkers)
	c.Service.MaxJobs = getEnvInt("MAX_JOBS", c.Service.MaxJobs)

	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.UIEnabled = getEnvBool("UI_ENABLED", c.HTTP.UIEnabled)
	c.HTTP.UIStaticDir = getEnvString("UI_STATIC_DIR", c.HTTP.UIStaticDir)

	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = strings.ToLower(getEnvString("LOG_FORMAT", c.Log.Format))
}

// validate checks the settings every command depends on. Provider
// credentials are checked separately by RequireProviders.
func (c *Config) validate() error {
	switch c.Storage.Backend {
	case StorageFile, StorageSQLite:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Pipeline.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if _, err := script.ParsePlatforms(c.Pipeline.Platforms); err != nil {
		return fmt.Errorf("invalid PLATFORMS: %w", err)
	}
	if err := icron.Validate(c.Service.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	if c.Media.MusicVolume < 0 || c.Media.MusicVolume > 1 {
		return fmt.Errorf("MUSIC_VOLUME must be between 0 and 1")
	}
	for name := range c.Voices {
		if _, err := script.ParseNiche(name); err != nil {
			return fmt.Errorf("voices: %w", err)
		}
	}
	return nil
}

// RequireProviders checks that every selected provider is known and has its
// credentials.
func (c *Config) RequireProviders() error {
	needOpenAI, needGemini := false, false
	for _, sel := range []struct{ name, value string }{
		{"ENHANCE_PROVIDER", c.Enhance.Provider},
		{"IMAGE_PROVIDER", c.Image.Provider},
	} {
		switch sel.value {
		case ProviderOpenAI:
			needOpenAI = true
		case ProviderGemini:
			needGemini = true
		default:
			return fmt.Errorf("unknown %s %q", sel.name, sel.value)
		}
	}
	switch c.TTS.Provider {
	case ProviderOpenAI:
		needOpenAI = true
	case ProviderCommand:
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.TTS.Provider)
	}

	if needOpenAI && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if needGemini && c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	return nil
}

// DBPath is the SQLite database file of the sqlite backend.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "faceless.db")
}

// VoiceTable resolves niche voices with the configured overrides.
func (c *Config) VoiceTable() script.VoiceTable {
	overrides := make(map[script.Niche]script.VoiceProfile, len(c.Voices))
	for name, profile := range c.Voices {
		if n, err := script.ParseNiche(name); err == nil {
			overrides[n] = profile
		}
	}
	return script.NewVoiceTable(overrides)
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
