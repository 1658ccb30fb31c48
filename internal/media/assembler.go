package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

const DefaultMusicVolume = 0.15

// Assembler implements pipeline.VideoAssembler: one clip per scene, joined in
// request order, optionally mixed with background music.
type Assembler struct {
	ff          Operator
	musicVolume float64
	clipWorkers int
}

type AssemblerOption func(*Assembler)

func WithMusicVolume(v float64) AssemblerOption {
	return func(a *Assembler) {
		if v > 0 {
			a.musicVolume = v
		}
	}
}

// WithClipWorkers bounds how many scene clips are encoded at once.
func WithClipWorkers(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.clipWorkers = n
		}
	}
}

func NewAssembler(ff Operator, opts ...AssemblerOption) *Assembler {
	a := &Assembler{ff: ff, musicVolume: DefaultMusicVolume, clipWorkers: 2}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assembler) Assemble(ctx context.Context, req pipeline.AssembleRequest) (string, error) {
	if len(req.Scenes) == 0 {
		return "", errors.New("no scenes to assemble")
	}
	if req.OutputPath == "" || req.WorkDir == "" {
		return "", errors.New("assemble request needs an output path and a work dir")
	}
	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	clips, err := a.buildClips(ctx, req)
	if err != nil {
		return "", err
	}

	tmp := partPath(req.OutputPath)
	defer os.Remove(tmp)

	music := req.MusicPath
	if music != "" && !file.Exists(music) {
		log.Warn("Background music %s not found, assembling without it", music)
		music = ""
	}
	if music == "" {
		if err := a.ff.Concat(ctx, clips, tmp); err != nil {
			return "", fmt.Errorf("concatenate %s clips: %w", req.Platform, err)
		}
	} else {
		joined := filepath.Join(req.WorkDir, fmt.Sprintf("joined_%s.mp4", req.Platform))
		defer os.Remove(joined)
		if err := a.ff.Concat(ctx, clips, joined); err != nil {
			return "", fmt.Errorf("concatenate %s clips: %w", req.Platform, err)
		}
		if err := a.ff.MixMusic(ctx, joined, music, tmp, a.musicVolume); err != nil {
			return "", fmt.Errorf("mix background music: %w", err)
		}
	}

	info, err := a.ff.Probe(ctx, tmp)
	if err != nil {
		return "", fmt.Errorf("verify %s video: %w", req.Platform, err)
	}
	if !info.HasStream("video") || !info.HasStream("audio") {
		return "", fmt.Errorf("assembled %s video lacks a video or audio stream", req.Platform)
	}
	if err := os.Rename(tmp, req.OutputPath); err != nil {
		return "", fmt.Errorf("move video into place: %w", err)
	}

	log.Info("Assembled %s video from %d scenes (%.1fs): %s", req.Platform, len(clips), info.Duration, req.OutputPath)
	return req.OutputPath, nil
}

// buildClips renders missing or stale scene clips and returns every clip
// path in the order of req.Scenes.
func (a *Assembler) buildClips(ctx context.Context, req pipeline.AssembleRequest) ([]string, error) {
	for _, scene := range req.Scenes {
		if scene.ImagePath == "" || scene.AudioPath == "" {
			return nil, fmt.Errorf("scene %d lacks an image or audio path", scene.SceneNumber)
		}
	}

	clips := make([]string, len(req.Scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.clipWorkers)
	for i, scene := range req.Scenes {
		clip := filepath.Join(req.WorkDir, clipName(scene.SceneNumber, req.Platform))
		clips[i] = clip
		if file.NewerThan(clip, scene.ImagePath, scene.AudioPath) {
			log.Debug("Reusing clip for scene %d (%s)", scene.SceneNumber, req.Platform)
			continue
		}

		g.Go(func() error {
			duration, err := a.ff.Duration(gctx, scene.AudioPath)
			if err != nil {
				log.Warn("Using estimated duration for scene %d: %v", scene.SceneNumber, err)
				duration = scene.DurationEstimate
			}
			tmp := partPath(clip)
			err = a.ff.SceneClip(gctx, ClipRequest{
				Image:    scene.ImagePath,
				Audio:    scene.AudioPath,
				Output:   tmp,
				Platform: req.Platform,
				Duration: duration,
			})
			if err == nil {
				err = os.Rename(tmp, clip)
			}
			if err != nil {
				_ = os.Remove(tmp)
				return fmt.Errorf("scene %d clip: %w", scene.SceneNumber, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// partPath keeps the extension so ffmpeg still infers the container.
func partPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".part" + ext
}
