package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// Config holds the concurrency limits and per-call timeouts of a run.
type Config struct {
	OutputDir string

	ImageConcurrency int
	AudioConcurrency int
	VideoConcurrency int

	EnhanceTimeout   time.Duration
	ImageTimeout     time.Duration
	AudioTimeout     time.Duration
	VideoTimeout     time.Duration
	ThumbnailTimeout time.Duration
	SubtitleTimeout  time.Duration

	// DeleteCompleted removes the checkpoint after a completed run.
	DeleteCompleted bool
}

func DefaultConfig() Config {
	return Config{
		OutputDir:        "output",
		ImageConcurrency: 10,
		AudioConcurrency: 10,
		VideoConcurrency: 4,
		EnhanceTimeout:   120 * time.Second,
		ImageTimeout:     120 * time.Second,
		AudioTimeout:     180 * time.Second,
		VideoTimeout:     600 * time.Second,
		ThumbnailTimeout: 120 * time.Second,
		SubtitleTimeout:  120 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.ImageConcurrency <= 0 {
		c.ImageConcurrency = d.ImageConcurrency
	}
	if c.AudioConcurrency <= 0 {
		c.AudioConcurrency = d.AudioConcurrency
	}
	if c.VideoConcurrency <= 0 {
		c.VideoConcurrency = d.VideoConcurrency
	}
	if c.EnhanceTimeout <= 0 {
		c.EnhanceTimeout = d.EnhanceTimeout
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = d.ImageTimeout
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = d.AudioTimeout
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = d.VideoTimeout
	}
	if c.ThumbnailTimeout <= 0 {
		c.ThumbnailTimeout = d.ThumbnailTimeout
	}
	if c.SubtitleTimeout <= 0 {
		c.SubtitleTimeout = d.SubtitleTimeout
	}
	return c
}

// Dependencies are the collaborators of the orchestrator. Images, Audio and
// Video are required; a nil optional collaborator disables its stage.
type Dependencies struct {
	Enhancer   Enhancer
	Images     ImageGenerator
	Audio      AudioGenerator
	Video      VideoAssembler
	Thumbnails ThumbnailGenerator
	Subtitles  SubtitleGenerator

	// Checkpoints stores progress. When nil, each niche gets a file store
	// under <output>/<niche>/.checkpoints.
	Checkpoints checkpoint.Store
	Voices      script.VoiceTable
}

type Options struct {
	Enhance    bool
	Thumbnails bool
	Subtitles  bool
	MusicPath  string
	// OnStatus is called on every status change of the run.
	OnStatus func(jobs.Status)
}

type Orchestrator struct {
	cfg    Config
	layout Layout
	deps   Dependencies
	exists func(string) bool

	mu     sync.Mutex
	active map[string]struct{}
}

type Option func(*Orchestrator)

// WithArtifactCheck replaces the on-disk existence check for artifacts.
func WithArtifactCheck(fn func(path string) bool) Option {
	return func(o *Orchestrator) {
		o.exists = fn
	}
}

func New(cfg Config, deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if deps.Images == nil {
		return nil, errors.New("image generator is required")
	}
	if deps.Audio == nil {
		return nil, errors.New("audio generator is required")
	}
	if deps.Video == nil {
		return nil, errors.New("video assembler is required")
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:    cfg,
		layout: NewLayout(cfg.OutputDir),
		deps:   deps,
		exists: file.Exists,
		active: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Layout() Layout {
	return o.layout
}

// CheckpointStore returns the store that holds the checkpoints of niche.
func (o *Orchestrator) CheckpointStore(n script.Niche) (checkpoint.Store, error) {
	if o.deps.Checkpoints != nil {
		return o.deps.Checkpoints, nil
	}
	return checkpoint.NewFileStore(o.layout.CheckpointDir(n))
}

func (o *Orchestrator) artifactExists(path string) bool {
	return path != "" && o.exists(path)
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[key]; busy {
		return false
	}
	o.active[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.active, key)
	o.mu.Unlock()
}

// Run takes one script through every stage, resuming from its checkpoint.
// It never panics and always returns a result; failures are reported in it.
func (o *Orchestrator) Run(ctx context.Context, s *script.Script, platforms []script.Platform, opts Options) *JobResult {
	start := time.Now()
	if s == nil {
		res := newJobResult("")
		res.Status = jobs.StatusFailed
		res.Failure = NewError(StageFailure, 0, "script is nil")
		notify(opts.OnStatus, jobs.StatusFailed)
		return res
	}
	key := s.Key()
	res := newJobResult(key)
	defer func() {
		res.Duration = time.Since(start)
	}()

	fail := func(e *StageError) *JobResult {
		res.Status = jobs.StatusFailed
		res.Failure = e
		notify(opts.OnStatus, jobs.StatusFailed)
		return res
	}

	if err := s.Validate(); err != nil {
		return fail(WrapError(err, StageFailure, 0, "invalid script"))
	}
	platforms = uniquePlatforms(platforms)
	if len(platforms) == 0 {
		return fail(NewError(StageFailure, 0, "no platforms requested"))
	}
	for _, p := range platforms {
		if !p.Valid() {
			return fail(NewError(StageFailure, 0, fmt.Sprintf("unknown platform %q", p)))
		}
	}

	if !o.acquire(key) {
		return fail(NewError(StageFailure, 0, "a run for this script is already in progress").WithContext("script", key))
	}
	defer o.release(key)

	work := s.Clone()
	if err := o.layout.Ensure(work); err != nil {
		return fail(WrapError(err, StageFailure, 0, "prepare output directories"))
	}
	store, err := o.CheckpointStore(work.Niche)
	if err != nil {
		return fail(WrapError(err, StageFailure, 0, "open checkpoint store"))
	}

	logger := log.With(map[string]any{"script": key})
	keeper, err := checkpoint.Open(ctx, store, key, work.SourcePath,
		checkpoint.WithScenes(work.SceneNumbers()),
		checkpoint.WithArtifactCheck(o.exists),
		checkpoint.WithLogger(logger),
	)
	if err != nil {
		return fail(WrapError(err, StageFailure, 0, "open checkpoint"))
	}
	defer keeper.Close()

	res.JobID = keeper.JobID()
	r := &run{
		o:            o,
		keeper:       keeper,
		script:       work,
		platforms:    platforms,
		opts:         opts,
		result:       res,
		logger:       logger.With(map[string]any{"job_id": res.JobID}),
		failedScenes: make(map[int]bool),
		status:       jobs.StatusPending,
	}
	r.execute(ctx)
	res.Duration = time.Since(start)

	if res.Success() && o.cfg.DeleteCompleted {
		if err := keeper.Delete(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Failed to delete checkpoint: %v", err)
		}
	}
	return res
}

func notify(fn func(jobs.Status), status jobs.Status) {
	if fn == nil {
		return
	}
	_ = SafeExecute(func() error {
		fn(status)
		return nil
	})
}

func uniquePlatforms(in []script.Platform) []script.Platform {
	seen := make(map[script.Platform]bool, len(in))
	ret := make([]script.Platform, 0, len(in))
	for _, p := range in {
		if seen[p] {
			continue
		}
		seen[p] = true
		ret = append(ret, p)
	}
	return ret
}

// run is the state of one Run call. Its fields are only touched by the
// goroutine that called Run; unit workers report through return values.
type run struct {
	o         *Orchestrator
	keeper    *checkpoint.Keeper
	script    *script.Script
	platforms []script.Platform
	opts      Options
	result    *JobResult
	logger    *log.Logger
	status    jobs.Status

	failedScenes map[int]bool
	// regenerated is set when images or audio produced a new artifact, which
	// makes any existing video stale.
	regenerated atomic.Bool
	// rebuilt holds the platforms whose video was assembled in this run.
	// Thumbnails and subtitles derived from the old video are stale.
	rebuilt sync.Map
}

func (r *run) videoRebuilt(p script.Platform) bool {
	_, ok := r.rebuilt.Load(p)
	return ok
}

func (r *run) anyVideoRebuilt() bool {
	found := false
	r.rebuilt.Range(func(_, _ any) bool {
		found = true
		return false
	})
	return found
}

func (r *run) execute(ctx context.Context) {
	r.logger.Info("Starting pipeline for %q (%d scenes, platforms %v)", r.script.Title, len(r.script.Scenes), r.platforms)

	for _, stage := range jobs.Stages() {
		if ctx.Err() != nil {
			r.fail(WrapError(ctx.Err(), StageFailure, stage, "run cancelled"))
			break
		}
		if r.skipStage(ctx, stage) {
			r.logger.Debug("Skipping stage %s (complete)", stage)
			continue
		}
		if !r.enabled(stage) {
			r.markStage(ctx, stage, checkpoint.OutcomeSkipped)
			continue
		}
		if err := r.setStatus(ctx, stage.Status()); err != nil {
			r.fail(WrapError(err, StageFailure, stage, "persist status"))
			break
		}

		stageStart := time.Now()
		switch stage {
		case jobs.StageEnhance:
			r.enhance(ctx)
		case jobs.StageImages:
			r.images(ctx)
		case jobs.StageAudio:
			r.audio(ctx)
		case jobs.StageVideo:
			r.video(ctx)
		case jobs.StageThumbnails:
			r.thumbnails(ctx)
		case jobs.StageSubtitles:
			r.subtitles(ctx)
		}
		r.logger.Info("Stage %s finished in %s", stage, time.Since(stageStart).Round(time.Millisecond))

		if r.result.Failure != nil {
			break
		}
	}

	r.collectOutputs()
	final := jobs.StatusCompleted
	if r.result.Failure != nil {
		final = jobs.StatusFailed
	}
	if err := r.setStatus(context.WithoutCancel(ctx), final); err != nil {
		r.logger.Error("Failed to persist final status: %v", err)
	}
	r.result.Status = final

	if final == jobs.StatusCompleted {
		r.logger.Info("Pipeline completed with %d error(s)", len(r.result.Errors))
	} else {
		r.logger.Error("Pipeline failed: %v", r.result.Failure)
	}
}

func (r *run) enabled(stage jobs.Stage) bool {
	switch stage {
	case jobs.StageEnhance:
		return r.opts.Enhance && r.o.deps.Enhancer != nil
	case jobs.StageThumbnails:
		return r.opts.Thumbnails && r.o.deps.Thumbnails != nil
	case jobs.StageSubtitles:
		return r.opts.Subtitles && r.o.deps.Subtitles != nil
	default:
		return true
	}
}

func (r *run) setStatus(ctx context.Context, status jobs.Status) error {
	if r.status == status {
		return nil
	}
	if err := r.keeper.SetStatus(ctx, status); err != nil {
		return err
	}
	r.status = status
	notify(r.opts.OnStatus, status)
	return nil
}

func (r *run) markStage(ctx context.Context, stage jobs.Stage, outcome checkpoint.Outcome) {
	if err := r.keeper.MarkStageComplete(ctx, stage, outcome); err != nil {
		r.addError(WrapError(err, TransientUnitFailure, stage, "persist stage completion"))
	}
}

func (r *run) addError(e *StageError) {
	r.logger.Warn("%v", e)
	if e.Scene > 0 {
		r.failedScenes[e.Scene] = true
	}
	r.result.Errors = append(r.result.Errors, e)
}

func (r *run) fail(e *StageError) {
	if r.result.Failure == nil {
		r.result.Failure = e
	}
}

// skipStage reports whether stage is already complete for this run. A done
// stage whose artifacts went missing is revoked so its missing units rerun.
func (r *run) skipStage(ctx context.Context, stage jobs.Stage) bool {
	outcome, ok := r.keeper.StageOutcome(stage)
	if !ok {
		return false
	}
	switch outcome {
	case checkpoint.OutcomeSkipped, checkpoint.OutcomeDegraded:
		// Skipped and degraded stages run again once they are enabled.
		return !r.enabled(stage)
	}

	var missing string
	if stage.Optional() && (r.regenerated.Load() || r.anyVideoRebuilt()) {
		missing = "video rebuilt in this run"
	}
	switch stage {
	case jobs.StageEnhance:
		if err := r.loadEnhanced(); err != nil {
			missing = err.Error()
		}
	case jobs.StageImages:
		missing = r.missingUnits(stage, r.platformVariants())
	case jobs.StageAudio:
		missing = r.missingUnits(stage, []string{""})
	case jobs.StageVideo:
		if r.regenerated.Load() {
			missing = "inputs regenerated in this run"
		} else {
			missing = r.missingUnits(stage, r.platformVariants())
		}
	}
	if missing == "" {
		return true
	}

	e := NewError(ConsistencyFailure, stage, "recorded artifact missing, regenerating").WithContext("artifact", missing)
	r.logger.Warn("%v", e)
	if err := r.keeper.RevokeStage(ctx, stage); err != nil {
		r.logger.Error("Failed to revoke stage %s: %v", stage, err)
	}
	return false
}

func (r *run) platformVariants() []string {
	ret := make([]string, 0, len(r.platforms))
	for _, p := range r.platforms {
		ret = append(ret, string(p))
	}
	return ret
}

// missingUnits describes the first unit that is not complete on disk, or "".
func (r *run) missingUnits(stage jobs.Stage, variants []string) string {
	scenes := r.script.SceneNumbers()
	if !stage.PerScene() {
		scenes = []int{0}
	}
	for _, n := range scenes {
		for _, v := range variants {
			if !r.keeper.IsUnitComplete(stage, n, v) {
				if p, ok := r.keeper.UnitPath(stage, n, v); ok {
					return p
				}
				return fmt.Sprintf("%s scene %d %s", stage, n, v)
			}
		}
	}
	return ""
}

// collectOutputs fills the result from the checkpoint, keeping only
// requested platforms whose files exist.
func (r *run) collectOutputs() {
	snap := r.keeper.Snapshot()
	for _, p := range r.platforms {
		if path := snap.Videos[p]; r.o.artifactExists(path) {
			r.result.VideoPaths[p] = path
		}
		if path := snap.Thumbnails[p]; r.o.artifactExists(path) {
			r.result.ThumbnailPaths[p] = path
		}
	}
	for format, path := range snap.Subtitles {
		if r.o.artifactExists(path) {
			r.result.SubtitlePaths[format] = path
		}
	}
}

// unitContext bounds one collaborator call.
func unitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
