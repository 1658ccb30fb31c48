package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/icron"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings is the part of the configuration editable while serving.
type RuntimeSettings struct {
	LLMAPIURL string `json:"llm_api_url"`
	LLMAPIKey string `json:"llm_api_key"`
	LLMModel  string `json:"llm_model"`
	CronExpr  string `json:"cron_expr"`
	Platforms string `json:"platforms"`
	Enhance   *bool  `json:"enhance,omitempty"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMAPIURL) == "" {
		return fmt.Errorf("llm_api_url is required")
	}
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	if strings.TrimSpace(s.CronExpr) == "" {
		return fmt.Errorf("cron_expr is required")
	}
	if err := icron.Validate(s.CronExpr); err != nil {
		return fmt.Errorf("invalid cron_expr: %w", err)
	}
	if _, err := script.ParsePlatforms(s.Platforms); err != nil {
		return fmt.Errorf("invalid platforms: %w", err)
	}
	return nil
}

// Masked returns a copy safe to show: the API key keeps its last four characters.
func (s RuntimeSettings) Masked() RuntimeSettings {
	s.LLMAPIKey = maskKey(s.LLMAPIKey)
	return s
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	enhance := c.Pipeline.Enhance
	return RuntimeSettings{
		LLMAPIURL: c.LLM.APIURL,
		LLMAPIKey: c.LLM.APIKey,
		LLMModel:  c.LLM.Model,
		CronExpr:  c.Service.CronExpr,
		Platforms: c.Pipeline.Platforms,
		Enhance:   &enhance,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.CronExpr) != "" {
			c.Service.CronExpr = settings.CronExpr
		}
		if _, err := script.ParsePlatforms(settings.Platforms); err == nil {
			c.Pipeline.Platforms = settings.Platforms
		}
		if settings.Enhance != nil {
			c.Pipeline.Enhance = *settings.Enhance
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')
	return file.WriteAtomic(path, content, 0o600)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings validates, persists and swaps in next. An empty or
// masked API key keeps the current key.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.LLMAPIKey == "" || next.LLMAPIKey == maskKey(s.current.LLMAPIKey) {
		next.LLMAPIKey = s.current.LLMAPIKey
	}
	if next.Enhance == nil {
		next.Enhance = s.current.Enhance
	}
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
