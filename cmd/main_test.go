package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

type fakeScheduler struct {
	called bool
	err    error
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return f.err
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestRunWithComponents_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Addr:      "127.0.0.1:0",
			UIEnabled: true,
		},
	}
	sched := &fakeScheduler{}
	engine := &fakeCron{}
	srv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, cfg, sched, engine, srv)
	}()

	select {
	case <-srv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, sched.called)
	assert.True(t, engine.started)
	assert.True(t, engine.stopped)
}

func TestRunWithComponents_Failures(t *testing.T) {
	cfg := &config.Config{HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"}}

	engine := &fakeCron{}
	err := runWithComponents(context.Background(), cfg, &fakeScheduler{err: errors.New("bad cron")}, engine, newFakeHTTP())
	require.ErrorContains(t, err, "bad cron")
	assert.False(t, engine.started)

	srv := newFakeHTTP()
	srv.listenErr = errors.New("address already in use")
	engine = &fakeCron{}
	err = runWithComponents(context.Background(), cfg, &fakeScheduler{}, engine, srv)
	require.ErrorContains(t, err, "address already in use")
	assert.True(t, engine.stopped)
}

func TestRunFlags_Options(t *testing.T) {
	defaults := config.Default().Pipeline
	defaults.MusicPath = "/music/default.mp3"

	tests := []struct {
		name      string
		flags     runFlags
		want      pipeline.Options
		platforms []script.Platform
		wantErr   string
	}{
		{
			name:      "defaults",
			flags:     runFlags{},
			want:      pipeline.Options{Enhance: true, Thumbnails: true, Subtitles: true, MusicPath: "/music/default.mp3"},
			platforms: []script.Platform{script.PlatformYouTube, script.PlatformTikTok},
		},
		{
			name:      "overrides",
			flags:     runFlags{platforms: "tiktok", noEnhance: true, noThumbnails: true, noSubtitles: true, music: "/music/rain.mp3"},
			want:      pipeline.Options{MusicPath: "/music/rain.mp3"},
			platforms: []script.Platform{script.PlatformTikTok},
		},
		{
			name:    "unknown platform",
			flags:   runFlags{platforms: "instagram"},
			wantErr: "instagram",
		},
		{
			name:    "conflicting enhance flags",
			flags:   runFlags{enhance: true, noEnhance: true},
			wantErr: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, platforms, err := tt.flags.options(defaults)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, opts)
			assert.Equal(t, tt.platforms, platforms)
		})
	}
}

func TestRunFlags_EnhanceOverridesDisabledDefault(t *testing.T) {
	defaults := config.Default().Pipeline
	defaults.Enhance = false

	opts, _, err := (&runFlags{enhance: true}).options(defaults)
	require.NoError(t, err)
	assert.True(t, opts.Enhance)
}

func writeScript(t *testing.T, dir, title string) string {
	t.Helper()
	path := filepath.Join(dir, "door_script.json")
	body := fmt.Sprintf(`{
  "title": %q,
  "niche": "scary-stories",
  "scenes": [
    {"scene_number": 1, "narration": "The door was open.", "image_prompt": "an open door at night", "duration_estimate": 4}
  ]
}`, title)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func isolateEnv(t *testing.T, outputDir string) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("OUTPUT_DIR", outputDir)
	t.Setenv("LOG_LEVEL", "error")
}

func TestShowStatus_FileBackend(t *testing.T) {
	tmp := t.TempDir()
	outputDir := filepath.Join(tmp, "output")
	isolateEnv(t, outputDir)
	scriptPath := writeScript(t, tmp, "The Open Door")

	var out bytes.Buffer
	require.NoError(t, showStatus(context.Background(), &out, scriptPath, 0))
	assert.Contains(t, out.String(), "has not run yet")

	sc, err := script.Load(scriptPath)
	require.NoError(t, err)
	store, err := checkpoint.NewFileStore(pipeline.NewLayout(outputDir).CheckpointDir(sc.Niche))
	require.NoError(t, err)
	cp := checkpoint.New("job-42", sc.Key(), sc.SourcePath)
	cp.Status = jobs.StatusGeneratingAudio
	cp.Stages[jobs.StageImages] = checkpoint.OutcomeDone
	require.NoError(t, store.Save(context.Background(), cp))

	out.Reset()
	require.NoError(t, showStatus(context.Background(), &out, scriptPath, 0))
	assert.Contains(t, out.String(), `"job_id": "job-42"`)
	assert.Contains(t, out.String(), `"status": "generating_audio"`)
	assert.Contains(t, out.String(), `"images": "done"`)

	err = showStatus(context.Background(), &out, "", 10)
	require.ErrorContains(t, err, "--script is required")
}

func TestOpenStorage_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageSQLite
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")

	st, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer st.close()

	require.NotNil(t, st.jobs)
	require.NotNil(t, st.checkpoints)
	assert.FileExists(t, cfg.DBPath())

	store, err := st.checkpointStore(cfg, script.NicheScaryStories)
	require.NoError(t, err)
	assert.Same(t, st.checkpoints, store)

	cp := checkpoint.New("job-1", "/scripts/a_script.json", "/scripts/a_script.json")
	require.NoError(t, store.Save(context.Background(), cp))
	got, err := store.Load(context.Background(), "/scripts/a_script.json")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)

	lister, ok := st.checkpoints.(checkpointLister)
	require.True(t, ok)
	list, err := lister.ListCheckpoints(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOpenStorage_FileBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.OutputDir = t.TempDir()

	st, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer st.close()

	assert.Nil(t, st.jobs)
	store, err := st.checkpointStore(cfg, script.NicheScaryStories)
	require.NoError(t, err)
	fs, ok := store.(*checkpoint.FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.Pipeline.OutputDir, "scary-stories", ".checkpoints"), fs.Dir())
}

func TestBuildPipeline(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.TTS.Provider = config.ProviderCommand
	cfg.TTS.Command = "/usr/local/bin/say-scene"

	_, err := buildPipeline(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "LLM_API_KEY")

	cfg.LLM.APIKey = "sk-test"
	o, err := buildPipeline(context.Background(), cfg, checkpoint.NewMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, cfg.Pipeline.OutputDir, o.Layout().Root)

	cfg.Image.Provider = "midjourney"
	_, err = buildPipeline(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "IMAGE_PROVIDER")
}

func TestPipelineConfig(t *testing.T) {
	pc := config.Default().Pipeline
	pc.DeleteCompletedCheckpoints = true

	got := pipelineConfig(pc)
	assert.Equal(t, "output", got.OutputDir)
	assert.Equal(t, 10, got.ImageConcurrency)
	assert.Equal(t, 4, got.VideoConcurrency)
	assert.Equal(t, 180*time.Second, got.AudioTimeout)
	assert.Equal(t, 10*time.Minute, got.VideoTimeout)
	assert.True(t, got.DeleteCompleted)
}

func TestPrintResult_Hint(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, &pipeline.JobResult{
		JobID:   "job-1",
		Status:  jobs.StatusFailed,
		Failure: pipeline.NewError(pipeline.StageFailure, jobs.StageVideo, "no scene has both an image and audio"),
	})
	assert.Contains(t, out.String(), "Status:   failed")
	assert.Contains(t, out.String(), "Hint: Check that ffmpeg is installed")

	out.Reset()
	printResult(&out, &pipeline.JobResult{
		JobID:  "job-2",
		Status: jobs.StatusCompleted,
		Errors: []*pipeline.StageError{pipeline.NewError(pipeline.OptionalStageFailure, jobs.StageThumbnails, "thumbnail generation failed")},
	})
	assert.Contains(t, out.String(), "Errors (1):")
	assert.Contains(t, out.String(), "Hint: Videos are complete")

	out.Reset()
	printResult(&out, &pipeline.JobResult{JobID: "job-3", Status: jobs.StatusCompleted})
	assert.NotContains(t, out.String(), "Hint:")
}
