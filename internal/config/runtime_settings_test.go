package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL: "https://example.test/v1",
		LLMAPIKey: "sk-test-1234",
		LLMModel:  "model-test",
		CronExpr:  "*/5 * * * *",
		Platforms: "youtube,tiktok",
		Enhance:   boolPtr(true),
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	invalid := validSettings()
	invalid.CronExpr = "bad cron"
	require.Error(t, invalid.Validate())

	noPlatforms := validSettings()
	noPlatforms.Platforms = ""
	require.Error(t, noPlatforms.Validate())

	noModel := validSettings()
	noModel.LLMModel = " "
	require.Error(t, noModel.Validate())
}

func TestRuntimeSettings_Masked(t *testing.T) {
	s := validSettings()
	assert.Equal(t, "****1234", s.Masked().LLMAPIKey)
	assert.Equal(t, "sk-test-1234", s.LLMAPIKey)

	s.LLMAPIKey = "abc"
	assert.Equal(t, "****", s.Masked().LLMAPIKey)
	s.LLMAPIKey = ""
	assert.Empty(t, s.Masked().LLMAPIKey)
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_API_URL", "https://env.example/v1")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("CRON_EXPR", "0 1 * * *")

	override := RuntimeSettings{
		LLMAPIURL: "https://file.example/v1",
		LLMAPIKey: "file-key",
		LLMModel:  "file-model",
		CronExpr:  "*/30 * * * *",
		Platforms: "tiktok",
		Enhance:   boolPtr(false),
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, override.LLMAPIURL, cfg.LLM.APIURL)
	assert.Equal(t, override.LLMAPIKey, cfg.LLM.APIKey)
	assert.Equal(t, override.LLMModel, cfg.LLM.Model)
	assert.Equal(t, override.CronExpr, cfg.Service.CronExpr)
	assert.Equal(t, "tiktok", cfg.Pipeline.Platforms)
	assert.False(t, cfg.Pipeline.Enhance)
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")
	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	next := RuntimeSettings{
		LLMAPIURL: "https://new.example/v1",
		LLMAPIKey: "new-ak",
		LLMModel:  "new-model",
		CronExpr:  "*/10 * * * *",
		Platforms: "youtube",
		Enhance:   boolPtr(false),
	}
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)
}

func TestRuntimeSettingsStore_KeepsKeyWhenMasked(t *testing.T) {
	store, err := NewRuntimeSettingsStore(filepath.Join(t.TempDir(), "s.json"), validSettings())
	require.NoError(t, err)

	next := validSettings().Masked()
	next.LLMModel = "other-model"
	next.Enhance = nil
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234", got.LLMAPIKey)
	assert.Equal(t, "other-model", got.LLMModel)
	require.NotNil(t, got.Enhance)
	assert.True(t, *got.Enhance)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{LLMAPIURL: "x", LLMModel: "y", CronExpr: "nope", Platforms: "youtube"})
	assert.Error(t, err)
	current, _ := store.GetRuntimeSettings()
	assert.Equal(t, "other-model", current.LLMModel)
}
