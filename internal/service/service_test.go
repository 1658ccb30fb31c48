package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

type runCall struct {
	key       string
	platforms []script.Platform
	opts      pipeline.Options
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runCall
	fail   bool
	store  *checkpoint.MemoryStore
	status []jobs.Status
}

func (f *fakeRunner) Run(_ context.Context, s *script.Script, platforms []script.Platform, opts pipeline.Options) *pipeline.JobResult {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{key: s.Key(), platforms: platforms, opts: opts})
	f.mu.Unlock()

	for _, st := range f.status {
		opts.OnStatus(st)
	}
	res := &pipeline.JobResult{
		JobID:      "cp-job-1",
		ScriptKey:  s.Key(),
		VideoPaths: map[script.Platform]string{},
		Duration:   1500 * time.Millisecond,
	}
	if f.fail {
		res.Status = jobs.StatusFailed
		res.Failure = pipeline.NewError(pipeline.StageFailure, jobs.StageImages, "all scenes failed")
		opts.OnStatus(jobs.StatusFailed)
		return res
	}
	for _, p := range platforms {
		res.VideoPaths[p] = "/out/" + string(p) + ".mp4"
	}
	res.Errors = []*pipeline.StageError{pipeline.NewError(pipeline.OptionalStageFailure, jobs.StageSubtitles, "no captions").WithScene(0)}
	res.Status = jobs.StatusCompleted
	opts.OnStatus(jobs.StatusCompleted)
	return res
}

func (f *fakeRunner) CheckpointStore(script.Niche) (checkpoint.Store, error) {
	if f.store == nil {
		return nil, fmt.Errorf("no store")
	}
	return f.store, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeScript(t *testing.T, dir, name, title string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	body := fmt.Sprintf(`{
  "title": %q,
  "niche": "scary-stories",
  "scenes": [
    {"scene_number": 1, "narration": "The door was open.", "image_prompt": "an open door at night", "duration_estimate": 4},
    {"scene_number": 2, "narration": "It had been locked.", "image_prompt": "a rusty lock", "duration_estimate": 3}
  ]
}`, title)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(dir string) config.Config {
	cfg := *config.Default()
	cfg.Service.ScriptsDir = dir
	cfg.Service.CronExpr = "0 0 * * *"
	cfg.Pipeline.Platforms = "youtube,tiktok"
	cfg.Pipeline.Enhance = true
	cfg.Pipeline.Thumbnails = true
	cfg.Pipeline.Subtitles = false
	return cfg
}

func newTestService(t *testing.T, dir string, runner *fakeRunner) (*Service, *jobs.Queue) {
	t.Helper()
	q := jobs.NewQueue(1, nil)
	t.Cleanup(q.Stop)
	factory := func(config.Config) (Runner, error) { return runner, nil }
	return New(testConfig(dir), q, factory, cron.New()), q
}

func TestScan_QueuesRecentScripts(t *testing.T) {
	dir := t.TempDir()
	fresh := writeScript(t, dir, "night_shift_script.json", "Night Shift")
	nested := writeScript(t, dir, filepath.Join("batch", "the_well_script.json"), "The Well")
	old := writeScript(t, dir, "old_story_script.json", "Old Story")
	monthAgo := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, monthAgo, monthAgo))
	writeScript(t, dir, "notes.json", "Not A Script")
	writeScript(t, dir, filepath.Join(".drafts", "draft_script.json"), "Draft")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken_script.json"), []byte("{"), 0o644))

	svc, q := newTestService(t, dir, &fakeRunner{})

	queued, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, queued, 2)

	paths := []string{queued[0].Payload.ScriptPath, queued[1].Payload.ScriptPath}
	assert.ElementsMatch(t, []string{filepath.Clean(fresh), filepath.Clean(nested)}, paths)
	for _, job := range queued {
		assert.Equal(t, SourceCron, job.Source)
		assert.Equal(t, job.Payload.ScriptPath, job.DedupeKey)
		assert.Equal(t, []string{"youtube", "tiktok"}, job.Payload.Platforms)
		assert.True(t, job.Payload.Enhance)
		assert.False(t, job.Payload.Subtitles)
	}

	// Nothing changed since the previous scan.
	queued, err = svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queued)
	assert.Len(t, q.List(), 2)
}

func TestScan_MissingDirectory(t *testing.T) {
	svc, _ := newTestService(t, filepath.Join(t.TempDir(), "missing"), &fakeRunner{})
	_, err := svc.Scan(context.Background())
	assert.ErrorContains(t, err, "scripts directory")
}

func TestEnqueueScript_DedupesCronAndManual(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "night_shift_script.json", "Night Shift")
	svc, q := newTestService(t, dir, &fakeRunner{})

	fromCron, created, err := svc.EnqueueScript(SourceCron, ScriptRequest{Path: path})
	require.NoError(t, err)
	require.True(t, created)

	noThumbs := false
	fromManual, created, err := svc.EnqueueScript(SourceManual, ScriptRequest{Path: path, Platforms: []string{"tiktok"}, Thumbnails: &noThumbs})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, fromCron.ID, fromManual.ID)
	assert.Len(t, q.List(), 1)
}

func TestEnqueueScript_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "night_shift_script.json", "Night Shift")
	svc, _ := newTestService(t, dir, &fakeRunner{})

	off := false
	job, created, err := svc.EnqueueScript(SourceManual, ScriptRequest{
		Path:      path,
		Platforms: []string{"tiktok"},
		Enhance:   &off,
		MusicPath: "/music/calm.mp3",
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, []string{"tiktok"}, job.Payload.Platforms)
	assert.False(t, job.Payload.Enhance)
	assert.True(t, job.Payload.Thumbnails)
	assert.Equal(t, "/music/calm.mp3", job.Payload.MusicPath)

	_, _, err = svc.EnqueueScript(SourceManual, ScriptRequest{Path: path, Platforms: []string{"vimeo"}})
	assert.Error(t, err)
	_, _, err = svc.EnqueueScript(SourceManual, ScriptRequest{Path: filepath.Join(dir, "missing_script.json")})
	assert.Error(t, err)
}

func TestExecute_MirrorsStatusAndSummarizes(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "night_shift_script.json", "Night Shift")
	runner := &fakeRunner{status: []jobs.Status{jobs.StatusEnhancing, jobs.StatusGeneratingImages, jobs.StatusGeneratingAudio}}
	svc, q := newTestService(t, dir, runner)

	job, _, err := svc.EnqueueScript(SourceManual, ScriptRequest{Path: path})
	require.NoError(t, err)

	summary, err := svc.Execute(context.Background(), job)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "cp-job-1", summary.CheckpointJobID)
	assert.Equal(t, map[string]string{"youtube": "/out/youtube.mp4", "tiktok": "/out/tiktok.mp4"}, summary.VideoPaths)
	assert.Len(t, summary.Errors, 1)
	assert.InDelta(t, 1.5, summary.DurationSeconds, 0.001)

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusGeneratingAudio, got.Status)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, []script.Platform{script.PlatformYouTube, script.PlatformTikTok}, call.platforms)
	assert.True(t, call.opts.Enhance)
	assert.False(t, call.opts.Subtitles)
}

func TestExecute_FailedRun(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "night_shift_script.json", "Night Shift")
	svc, _ := newTestService(t, dir, &fakeRunner{fail: true})

	job, _, err := svc.EnqueueScript(SourceManual, ScriptRequest{Path: path})
	require.NoError(t, err)

	summary, err := svc.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pipeline.IsFailureKind(err, pipeline.StageFailure))
	require.NotNil(t, summary)
	assert.Len(t, summary.Errors, 1)
}

func TestQueue_RunsJobsThroughService(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a_script.json", "Story A")
	writeScript(t, dir, "b_script.json", "Story B")
	runner := &fakeRunner{}
	svc, q := newTestService(t, dir, runner)

	q.Start(svc.Execute)
	queued, err := svc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, queued, 2)

	require.Eventually(t, func() bool {
		for _, job := range q.List() {
			if job.Status != jobs.StatusCompleted {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, runner.callCount())
}

func TestApplyRuntimeSettings_ReschedulesAndRebuilds(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	builds := 0
	factory := func(cfg config.Config) (Runner, error) {
		builds++
		return runner, nil
	}
	engine := cron.New()
	q := jobs.NewQueue(1, nil)
	t.Cleanup(q.Stop)
	svc := New(testConfig(dir), q, factory, engine)

	require.NoError(t, svc.Schedule(context.Background()))
	require.Len(t, engine.Entries(), 1)
	first := engine.Entries()[0].ID

	_, err := svc.currentRunner()
	require.NoError(t, err)
	require.Equal(t, 1, builds)

	err = svc.ApplyRuntimeSettings(config.RuntimeSettings{
		LLMAPIURL: "https://new.example/v1",
		LLMAPIKey: "new-ak",
		LLMModel:  "new-model",
		CronExpr:  "*/10 * * * *",
		Platforms: "tiktok",
	})
	require.NoError(t, err)

	cfg := svc.config()
	assert.Equal(t, "*/10 * * * *", cfg.Service.CronExpr)
	assert.Equal(t, "new-ak", cfg.LLM.APIKey)
	assert.Equal(t, "new-model", cfg.LLM.Model)
	assert.Equal(t, "tiktok", cfg.Pipeline.Platforms)
	require.Len(t, engine.Entries(), 1)
	assert.NotEqual(t, first, engine.Entries()[0].ID)

	_, err = svc.currentRunner()
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	assert.Error(t, svc.ApplyRuntimeSettings(config.RuntimeSettings{LLMAPIURL: "x", LLMModel: "y", CronExpr: "bad", Platforms: "youtube"}))
	assert.Equal(t, "*/10 * * * *", svc.config().Service.CronExpr)
}

func TestCheckpoint_LoadsFromRunnerStore(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "night_shift_script.json", "Night Shift")
	runner := &fakeRunner{store: checkpoint.NewMemoryStore()}
	svc, _ := newTestService(t, dir, runner)

	_, err := svc.Checkpoint(context.Background(), path)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	sc, err := script.Load(path)
	require.NoError(t, err)
	require.NoError(t, runner.store.Save(context.Background(), checkpoint.New("cp-1", sc.Key(), path)))

	cp, err := svc.Checkpoint(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "cp-1", cp.JobID)
}

func TestStartTime(t *testing.T) {
	svc, _ := newTestService(t, t.TempDir(), &fakeRunner{})
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	// Daily cron fired today: look back a week.
	start, err := svc.startTime("0 0 * * *", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-initialLookback), start)

	// Monthly cron fired long ago: look back to that activation.
	start, err = svc.startTime("0 0 1 3 *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), start)

	svc.lastTrigger = now.Add(-time.Hour)
	start, err = svc.startTime("0 0 * * *", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), start)
}
