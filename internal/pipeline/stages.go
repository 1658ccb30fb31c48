package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
)

var errArtifactMissing = errors.New("generator reported success but the artifact is missing")

func (r *run) enhance(ctx context.Context) {
	callCtx, cancel := unitContext(ctx, r.o.cfg.EnhanceTimeout)
	defer cancel()

	input := r.script.Clone()
	enhanced, err := safeCall(func() (*script.Script, error) {
		return r.o.deps.Enhancer.Enhance(callCtx, input)
	})
	if err == nil {
		err = checkEnhanced(r.script, enhanced)
	}
	if err != nil {
		r.addError(WrapError(err, TransientUnitFailure, jobs.StageEnhance, "enhancement failed, using the original script"))
		return
	}

	now := time.Now().UTC()
	enhanced.EnhancedAt = &now
	enhanced.SourcePath = r.script.SourcePath
	path := r.o.layout.EnhancedScriptPath(r.script)
	if err := enhanced.Save(path); err != nil {
		r.addError(WrapError(err, TransientUnitFailure, jobs.StageEnhance, "save enhanced script"))
		return
	}
	if err := r.keeper.SetEnhancedScript(ctx, path); err != nil {
		r.addError(WrapError(err, TransientUnitFailure, jobs.StageEnhance, "persist enhanced script path"))
		return
	}
	r.script = enhanced
	r.markStage(ctx, jobs.StageEnhance, checkpoint.OutcomeDone)
}

// checkEnhanced rejects an enhancement that changed the scene structure.
func checkEnhanced(orig, enhanced *script.Script) error {
	if enhanced == nil {
		return errors.New("enhancer returned no script")
	}
	if err := enhanced.Validate(); err != nil {
		return fmt.Errorf("enhanced script is invalid: %w", err)
	}
	want, got := orig.SceneNumbers(), enhanced.SceneNumbers()
	if len(want) != len(got) {
		return fmt.Errorf("enhanced script has %d scenes, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("enhanced script renumbered scene %d to %d", want[i], got[i])
		}
	}
	return nil
}

// loadEnhanced switches the run to the enhanced script recorded by an
// earlier run.
func (r *run) loadEnhanced() error {
	path := r.keeper.Snapshot().EnhancedScriptPath
	if path == "" {
		return errors.New("no enhanced script recorded")
	}
	if !r.o.artifactExists(path) {
		return fmt.Errorf("enhanced script missing: %s", path)
	}
	enhanced, err := script.Load(path)
	if err != nil {
		return err
	}
	if err := checkEnhanced(r.script, enhanced); err != nil {
		return err
	}
	enhanced.SourcePath = r.script.SourcePath
	r.script = enhanced
	return nil
}

type sceneOutcome struct {
	err *StageError
}

// forEachScene runs fn for every scene with at most limit in flight and
// returns the failures in ascending scene order.
func (r *run) forEachScene(ctx context.Context, limit int, fn func(ctx context.Context, scene script.Scene) *StageError) []*StageError {
	scenes := r.script.SortedScenes()
	outcomes := make([]sceneOutcome, len(scenes))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, scene := range scenes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = WrapError(err, TransientUnitFailure, 0, "run cancelled").WithScene(scene.SceneNumber)
				return nil
			}
			if err := SafeExecute(func() error {
				if e := fn(ctx, scene); e != nil {
					return e
				}
				return nil
			}); err != nil {
				var se *StageError
				if !errors.As(err, &se) {
					se = WrapError(err, TransientUnitFailure, 0, "unit panicked").WithScene(scene.SceneNumber)
				}
				outcomes[i].err = se
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []*StageError
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, o.err)
		}
	}
	return failures
}

func (r *run) finishSceneStage(ctx context.Context, stage jobs.Stage, failures []*StageError) {
	for _, e := range failures {
		if !e.Stage.Valid() {
			e.Stage = stage
		}
		r.addError(e)
	}
	if len(failures) == 0 {
		r.markStage(ctx, stage, checkpoint.OutcomeDone)
	}
}

// produced checks a collaborator's reported output and falls back to the
// requested path when it returned none.
func (r *run) produced(got, want string) (string, error) {
	if got == "" {
		got = want
	}
	if !r.o.artifactExists(got) {
		return "", fmt.Errorf("%w: %s", errArtifactMissing, got)
	}
	return got, nil
}

func (r *run) images(ctx context.Context) {
	failures := r.forEachScene(ctx, r.o.cfg.ImageConcurrency, func(ctx context.Context, scene script.Scene) *StageError {
		for _, p := range r.platforms {
			if r.keeper.IsUnitComplete(jobs.StageImages, scene.SceneNumber, string(p)) {
				continue
			}
			want := r.o.layout.ImagePath(r.script, scene.SceneNumber, p)
			callCtx, cancel := unitContext(ctx, r.o.cfg.ImageTimeout)
			got, err := safeCall(func() (string, error) {
				return r.o.deps.Images.GenerateImage(callCtx, ImageRequest{
					Script:     r.script,
					Scene:      scene,
					Platform:   p,
					OutputPath: want,
				})
			})
			cancel()
			if err == nil {
				got, err = r.produced(got, want)
			}
			if err == nil {
				err = r.keeper.MarkUnitComplete(ctx, jobs.StageImages, scene.SceneNumber, string(p), got)
			}
			if err == nil {
				r.regenerated.Store(true)
			}
			if err != nil {
				return WrapError(err, TransientUnitFailure, jobs.StageImages, "image generation failed").
					WithScene(scene.SceneNumber).
					WithPlatform(p)
			}
		}
		return nil
	})
	r.finishSceneStage(ctx, jobs.StageImages, failures)
}

func (r *run) audio(ctx context.Context) {
	voice := r.o.deps.Voices.For(r.script.Niche)
	failures := r.forEachScene(ctx, r.o.cfg.AudioConcurrency, func(ctx context.Context, scene script.Scene) *StageError {
		if r.keeper.IsUnitComplete(jobs.StageAudio, scene.SceneNumber, "") {
			return nil
		}
		want := r.o.layout.AudioPath(r.script, scene.SceneNumber)
		callCtx, cancel := unitContext(ctx, r.o.cfg.AudioTimeout)
		defer cancel()
		got, err := safeCall(func() (string, error) {
			return r.o.deps.Audio.GenerateAudio(callCtx, AudioRequest{
				Scene:      scene,
				Voice:      voice,
				OutputPath: want,
			})
		})
		if err == nil {
			got, err = r.produced(got, want)
		}
		if err == nil {
			err = r.keeper.MarkUnitComplete(ctx, jobs.StageAudio, scene.SceneNumber, "", got)
		}
		if err == nil {
			r.regenerated.Store(true)
		}
		if err != nil {
			return WrapError(err, TransientUnitFailure, jobs.StageAudio, "audio generation failed").WithScene(scene.SceneNumber)
		}
		return nil
	})
	r.finishSceneStage(ctx, jobs.StageAudio, failures)
}

// assemblable returns, per platform, the scenes that have both image and
// audio, in ascending scene order, plus the scene numbers left out.
func (r *run) assemblable() (map[script.Platform][]script.Scene, []int) {
	perPlatform := make(map[script.Platform][]script.Scene, len(r.platforms))
	excluded := make(map[int]bool)
	var excludedOrder []int

	for _, scene := range r.script.SortedScenes() {
		audio, audioOK := r.keeper.UnitPath(jobs.StageAudio, scene.SceneNumber, "")
		audioOK = audioOK && r.keeper.IsUnitComplete(jobs.StageAudio, scene.SceneNumber, "")
		for _, p := range r.platforms {
			image, imageOK := r.keeper.UnitPath(jobs.StageImages, scene.SceneNumber, string(p))
			imageOK = imageOK && r.keeper.IsUnitComplete(jobs.StageImages, scene.SceneNumber, string(p))
			if !audioOK || !imageOK {
				if !excluded[scene.SceneNumber] {
					excluded[scene.SceneNumber] = true
					excludedOrder = append(excludedOrder, scene.SceneNumber)
				}
				continue
			}
			withPaths := scene
			withPaths.ImagePath = image
			withPaths.AudioPath = audio
			perPlatform[p] = append(perPlatform[p], withPaths)
		}
	}
	return perPlatform, excludedOrder
}

func (r *run) video(ctx context.Context) {
	perPlatform, excluded := r.assemblable()
	for _, n := range excluded {
		if r.failedScenes[n] {
			continue
		}
		r.addError(NewError(TransientUnitFailure, jobs.StageVideo, "scene excluded from video: missing image or audio").WithScene(n))
	}

	total := 0
	for _, scenes := range perPlatform {
		total += len(scenes)
	}
	if total == 0 {
		r.fail(NewError(StageFailure, jobs.StageVideo, "no scene has both an image and audio"))
		return
	}

	failures := make([]*StageError, len(r.platforms))
	var g errgroup.Group
	g.SetLimit(r.o.cfg.VideoConcurrency)
	for i, p := range r.platforms {
		scenes := perPlatform[p]
		g.Go(func() error {
			failures[i] = r.assemblePlatform(ctx, p, scenes, len(excluded) == 0)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, e := range failures {
		if e != nil {
			failed++
			r.addError(e)
		}
	}
	switch {
	case failed == len(r.platforms):
		r.fail(NewError(StageFailure, jobs.StageVideo, "video assembly failed for every platform"))
	case failed == 0 && len(excluded) == 0:
		r.markStage(ctx, jobs.StageVideo, checkpoint.OutcomeDone)
	}
}

// assemblePlatform builds one platform's video. The unit is recorded only
// when every scene made it in, so a partial video is rebuilt next run.
func (r *run) assemblePlatform(ctx context.Context, p script.Platform, scenes []script.Scene, complete bool) (stageErr *StageError) {
	defer func() {
		if rec := recover(); rec != nil {
			stageErr = NewError(TransientUnitFailure, jobs.StageVideo, fmt.Sprintf("runtime error: %v", rec)).WithPlatform(p)
		}
	}()
	if complete && !r.regenerated.Load() && r.keeper.IsUnitComplete(jobs.StageVideo, 0, string(p)) {
		return nil
	}
	if len(scenes) == 0 {
		return NewError(TransientUnitFailure, jobs.StageVideo, "no assemblable scenes for platform").WithPlatform(p)
	}
	if err := ctx.Err(); err != nil {
		return WrapError(err, TransientUnitFailure, jobs.StageVideo, "run cancelled").WithPlatform(p)
	}

	want := r.o.layout.VideoPath(r.script, p)
	callCtx, cancel := unitContext(ctx, r.o.cfg.VideoTimeout)
	defer cancel()
	got, err := safeCall(func() (string, error) {
		return r.o.deps.Video.Assemble(callCtx, AssembleRequest{
			Script:     r.script,
			Scenes:     scenes,
			Platform:   p,
			MusicPath:  r.opts.MusicPath,
			WorkDir:    r.o.layout.ClipDir(r.script),
			OutputPath: want,
		})
	})
	if err == nil {
		got, err = r.produced(got, want)
	}
	if err == nil {
		err = r.keeper.SetVideo(ctx, p, got)
	}
	if err == nil {
		r.rebuilt.Store(p, true)
	}
	if err == nil && complete {
		err = r.keeper.MarkUnitComplete(ctx, jobs.StageVideo, 0, string(p), got)
	}
	if err != nil {
		return WrapError(err, TransientUnitFailure, jobs.StageVideo, "video assembly failed").
			WithPlatform(p).
			WithContext("scenes", len(scenes))
	}
	return nil
}

func (r *run) thumbnails(ctx context.Context) {
	snap := r.keeper.Snapshot()
	failures := make([]*StageError, len(r.platforms))

	var g errgroup.Group
	g.SetLimit(r.o.cfg.VideoConcurrency)
	for i, p := range r.platforms {
		g.Go(func() error {
			failures[i] = r.thumbnail(ctx, p, snap)
			return nil
		})
	}
	_ = g.Wait()

	outcome := checkpoint.OutcomeDone
	for _, e := range failures {
		if e != nil {
			outcome = checkpoint.OutcomeDegraded
			r.addError(e)
		}
	}
	r.markStage(ctx, jobs.StageThumbnails, outcome)
}

func (r *run) thumbnail(ctx context.Context, p script.Platform, snap *checkpoint.Checkpoint) *StageError {
	video := snap.Videos[p]
	if !r.o.artifactExists(video) {
		return NewError(OptionalStageFailure, jobs.StageThumbnails, "no video to take a thumbnail from").WithPlatform(p)
	}
	thumb := snap.Thumbnails[p]
	if r.o.artifactExists(thumb) && !r.videoRebuilt(p) && !file.NewerThan(video, thumb) {
		return nil
	}
	want := r.o.layout.ThumbnailPath(r.script, p)
	callCtx, cancel := unitContext(ctx, r.o.cfg.ThumbnailTimeout)
	defer cancel()
	got, err := safeCall(func() (string, error) {
		return r.o.deps.Thumbnails.GenerateThumbnail(callCtx, ThumbnailRequest{
			Script:     r.script,
			Platform:   p,
			VideoPath:  video,
			OutputPath: want,
		})
	})
	if err == nil {
		got, err = r.produced(got, want)
	}
	if err == nil {
		err = r.keeper.SetThumbnail(ctx, p, got)
	}
	if err != nil {
		return WrapError(err, OptionalStageFailure, jobs.StageThumbnails, "thumbnail generation failed").WithPlatform(p)
	}
	return nil
}

func (r *run) subtitles(ctx context.Context) {
	// Captions cover only the scenes assembled into the video.
	_, excluded := r.assemblable()
	input := r.script.Clone()
	input.Scenes = input.Scenes[:0]
	for _, scene := range r.script.SortedScenes() {
		if slices.Contains(excluded, scene.SceneNumber) {
			continue
		}
		if audio, ok := r.keeper.UnitPath(jobs.StageAudio, scene.SceneNumber, ""); ok {
			scene.AudioPath = audio
		}
		input.Scenes = append(input.Scenes, scene)
	}

	callCtx, cancel := unitContext(ctx, r.o.cfg.SubtitleTimeout)
	defer cancel()
	files, err := safeCall(func() (map[string]string, error) {
		return r.o.deps.Subtitles.GenerateSubtitles(callCtx, SubtitleRequest{
			Script:     input,
			OutputBase: r.o.layout.SubtitleBase(r.script),
		})
	})
	if err == nil && len(files) == 0 {
		err = errors.New("no subtitle files written")
	}
	outcome := checkpoint.OutcomeDone
	if err != nil {
		outcome = checkpoint.OutcomeDegraded
		r.addError(WrapError(err, OptionalStageFailure, jobs.StageSubtitles, "subtitle generation failed"))
	}
	for format, path := range files {
		if _, perr := r.produced(path, path); perr != nil {
			outcome = checkpoint.OutcomeDegraded
			r.addError(WrapError(perr, OptionalStageFailure, jobs.StageSubtitles, "subtitle file missing").WithContext("format", format))
			continue
		}
		if serr := r.keeper.SetSubtitle(ctx, format, path); serr != nil {
			outcome = checkpoint.OutcomeDegraded
			r.addError(WrapError(serr, OptionalStageFailure, jobs.StageSubtitles, "persist subtitle path").WithContext("format", format))
		}
	}
	r.markStage(ctx, jobs.StageSubtitles, outcome)
}
