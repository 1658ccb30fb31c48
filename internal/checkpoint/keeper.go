package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

var ErrClosed = errors.New("checkpoint keeper is closed")

const defaultSaveTimeout = 30 * time.Second

// Keeper owns one checkpoint. Every mutation is applied on the keeper
// goroutine to a copy of the state, persisted, and only then published.
type Keeper struct {
	store       Store
	scenes      map[int]bool
	exists      func(path string) bool
	saveTimeout time.Duration
	logger      *log.Logger

	state atomic.Pointer[Checkpoint]
	ops   chan op
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

type op struct {
	ctx   context.Context
	apply func(cp *Checkpoint) (changed bool, err error)
	ack   chan error
}

type Option func(*openOptions)

type openOptions struct {
	jobID  string
	scenes []int
	exists func(path string) bool
	logger *log.Logger
}

// WithJobID sets the job id of a newly created checkpoint. A loaded
// checkpoint keeps its own id.
func WithJobID(id string) Option {
	return func(o *openOptions) {
		o.jobID = id
	}
}

// WithScenes restricts unit records to the given scene numbers.
func WithScenes(numbers []int) Option {
	return func(o *openOptions) {
		o.scenes = append([]int(nil), numbers...)
	}
}

// WithArtifactCheck replaces the on-disk existence check used by IsUnitComplete.
func WithArtifactCheck(fn func(path string) bool) Option {
	return func(o *openOptions) {
		o.exists = fn
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *openOptions) {
		o.logger = l
	}
}

// Open loads the checkpoint of key, or creates one when none exists or the
// stored one is unreadable. The checkpoint is reset to pending and persisted
// before Open returns.
func Open(ctx context.Context, store Store, key, scriptPath string, opts ...Option) (*Keeper, error) {
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if key == "" {
		return nil, errors.New("checkpoint key is required")
	}
	o := openOptions{
		exists: file.Exists,
		logger: log.GetLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	k := &Keeper{
		store:       store,
		exists:      o.exists,
		saveTimeout: defaultSaveTimeout,
		logger:      o.logger,
		ops:         make(chan op),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if o.scenes != nil {
		k.scenes = make(map[int]bool, len(o.scenes))
		for _, n := range o.scenes {
			k.scenes[n] = true
		}
	}

	cp, err := store.Load(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		cp = nil
	case err != nil:
		k.logger.Warn("Checkpoint for %s is unreadable, starting fresh: %v", key, err)
		cp = nil
	}
	if cp == nil {
		jobID := o.jobID
		if jobID == "" {
			jobID = uuid.NewString()
		}
		cp = New(jobID, key, scriptPath)
	} else {
		k.logger.Info("Resuming checkpoint %s for %s, completed stages: %v", cp.JobID, key, cp.CompletedStages())
	}
	cp.ScriptKey = key
	if scriptPath != "" {
		cp.ScriptPath = scriptPath
	}
	cp.Status = jobs.StatusPending
	k.dropStaleScenes(cp)
	cp.UpdatedAt = time.Now().UTC()

	if err := k.save(ctx, cp); err != nil {
		return nil, err
	}
	k.state.Store(cp)

	go k.loop()
	return k, nil
}

func (k *Keeper) dropStaleScenes(cp *Checkpoint) {
	if k.scenes == nil {
		return
	}
	for stage, scenes := range cp.Units {
		if !stage.PerScene() {
			continue
		}
		for n := range scenes {
			if !k.scenes[n] {
				k.logger.Debug("Checkpoint %s: dropping stale scene %d of %s", cp.ScriptKey, n, stage)
				delete(scenes, n)
			}
		}
	}
}

func (k *Keeper) loop() {
	defer close(k.done)
	for {
		select {
		case <-k.quit:
			return
		case o := <-k.ops:
			o.ack <- k.apply(o)
		}
	}
}

func (k *Keeper) apply(o op) error {
	next := k.state.Load().Clone()
	changed, err := o.apply(next)
	if err != nil || !changed {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := k.save(o.ctx, next); err != nil {
		return err
	}
	k.state.Store(next)
	return nil
}

// save outlives a cancelled caller so a unit that already produced its
// artifact still gets recorded.
func (k *Keeper) save(ctx context.Context, cp *Checkpoint) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.saveTimeout)
	defer cancel()
	if err := k.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("persist checkpoint %s: %w", cp.ScriptKey, err)
	}
	return nil
}

func (k *Keeper) submit(ctx context.Context, fn func(cp *Checkpoint) (bool, error)) error {
	o := op{ctx: ctx, apply: fn, ack: make(chan error, 1)}
	select {
	case k.ops <- o:
	case <-k.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-o.ack
}

// validScene only filters per-scene stages; other stages record their units
// under scene 0.
func (k *Keeper) validScene(stage jobs.Stage, scene int) bool {
	return !stage.PerScene() || k.scenes == nil || k.scenes[scene]
}

// MarkUnitComplete records the artifact of one unit. Scenes outside the
// script are ignored.
func (k *Keeper) MarkUnitComplete(ctx context.Context, stage jobs.Stage, scene int, variant, path string) error {
	if !stage.Valid() {
		return fmt.Errorf("invalid stage %d", int(stage))
	}
	if path == "" {
		return errors.New("artifact path is required")
	}
	if !k.validScene(stage, scene) {
		k.logger.Debug("Ignoring stale scene %d for stage %s", scene, stage)
		return nil
	}
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if p, ok := cp.UnitPath(stage, scene, variant); ok && p == path {
			return false, nil
		}
		cp.setUnit(stage, scene, variant, path)
		return true, nil
	})
}

func (k *Keeper) MarkStageComplete(ctx context.Context, stage jobs.Stage, outcome Outcome) error {
	if !stage.Valid() {
		return fmt.Errorf("invalid stage %d", int(stage))
	}
	if !outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", outcome)
	}
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if cp.Stages[stage] == outcome {
			return false, nil
		}
		cp.Stages[stage] = outcome
		return true, nil
	})
}

// RevokeStage removes the completion mark of stage. Unit records stay, so
// only units whose artifacts are gone run again.
func (k *Keeper) RevokeStage(ctx context.Context, stage jobs.Stage) error {
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if _, ok := cp.Stages[stage]; !ok {
			return false, nil
		}
		delete(cp.Stages, stage)
		return true, nil
	})
}

// SetStatus moves the checkpoint along the job lifecycle.
func (k *Keeper) SetStatus(ctx context.Context, status jobs.Status) error {
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if cp.Status == status {
			return false, nil
		}
		if !cp.Status.CanTransition(status) {
			return false, fmt.Errorf("invalid status transition %s -> %s", cp.Status, status)
		}
		cp.Status = status
		return true, nil
	})
}

func (k *Keeper) SetVideo(ctx context.Context, platform script.Platform, path string) error {
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if cp.Videos[platform] == path {
			return false, nil
		}
		cp.Videos[platform] = path
		return true, nil
	})
}

func (k *Keeper) SetThumbnail(ctx context.Context, platform script.Platform, path string) error {
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if cp.Thumbnails[platform] == path {
			return false, nil
		}
		cp.Thumbnails[platform] = path
		return true, nil
	})
}

// SetSubtitle records a subtitle file by format, e.g. "srt".
func (k *Keeper) SetSubtitle(ctx context.Context, format, path string) error {
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if cp.Subtitles[format] == path {
			return false, nil
		}
		cp.Subtitles[format] = path
		return true, nil
	})
}

func (k *Keeper) SetEnhancedScript(ctx context.Context, path string) error {
	return k.submit(ctx, func(cp *Checkpoint) (bool, error) {
		if cp.EnhancedScriptPath == path {
			return false, nil
		}
		cp.EnhancedScriptPath = path
		return true, nil
	})
}

// Persist writes the current state again.
func (k *Keeper) Persist(ctx context.Context) error {
	return k.submit(ctx, func(*Checkpoint) (bool, error) {
		return true, nil
	})
}

// IsUnitComplete reports whether the unit was recorded and its artifact is
// still on disk.
func (k *Keeper) IsUnitComplete(stage jobs.Stage, scene int, variant string) bool {
	if !k.validScene(stage, scene) {
		return false
	}
	path, ok := k.state.Load().UnitPath(stage, scene, variant)
	if !ok {
		return false
	}
	if !k.exists(path) {
		k.logger.Debug("Recorded %s artifact for scene %d is missing: %s", stage, scene, path)
		return false
	}
	return true
}

func (k *Keeper) UnitPath(stage jobs.Stage, scene int, variant string) (string, bool) {
	return k.state.Load().UnitPath(stage, scene, variant)
}

func (k *Keeper) IsStageComplete(stage jobs.Stage) bool {
	return k.state.Load().IsStageComplete(stage)
}

func (k *Keeper) StageOutcome(stage jobs.Stage) (Outcome, bool) {
	return k.state.Load().StageOutcome(stage)
}

// Snapshot returns a copy of the current state.
func (k *Keeper) Snapshot() *Checkpoint {
	return k.state.Load().Clone()
}

func (k *Keeper) Key() string {
	return k.state.Load().ScriptKey
}

func (k *Keeper) JobID() string {
	return k.state.Load().JobID
}

// Close stops the keeper goroutine. Mutations after Close return ErrClosed.
func (k *Keeper) Close() {
	k.once.Do(func() {
		close(k.quit)
		<-k.done
	})
}

// Delete removes the stored checkpoint and closes the keeper.
func (k *Keeper) Delete(ctx context.Context) error {
	k.Close()
	return k.store.Delete(ctx, k.Key())
}
