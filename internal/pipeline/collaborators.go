package pipeline

import (
	"context"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// Enhancer rewrites a whole script. The result must keep the scene count and
// scene numbers of the input.
type Enhancer interface {
	Enhance(ctx context.Context, s *script.Script) (*script.Script, error)
}

type ImageRequest struct {
	Script     *script.Script
	Scene      script.Scene
	Platform   script.Platform
	OutputPath string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

type AudioRequest struct {
	Scene      script.Scene
	Voice      script.VoiceProfile
	OutputPath string
}

type AudioGenerator interface {
	GenerateAudio(ctx context.Context, req AudioRequest) (string, error)
}

// AssembleRequest carries the scenes of one platform in ascending scene
// number order, each with its image and audio path set.
type AssembleRequest struct {
	Script     *script.Script
	Scenes     []script.Scene
	Platform   script.Platform
	MusicPath  string
	WorkDir    string
	OutputPath string
}

type VideoAssembler interface {
	Assemble(ctx context.Context, req AssembleRequest) (string, error)
}

type ThumbnailRequest struct {
	Script     *script.Script
	Platform   script.Platform
	VideoPath  string
	OutputPath string
}

type ThumbnailGenerator interface {
	GenerateThumbnail(ctx context.Context, req ThumbnailRequest) (string, error)
}

// SubtitleRequest asks for subtitle files next to OutputBase, which has no
// extension.
type SubtitleRequest struct {
	Script     *script.Script
	OutputBase string
}

type SubtitleGenerator interface {
	// GenerateSubtitles returns the written files keyed by format ("srt", "vtt").
	GenerateSubtitles(ctx context.Context, req SubtitleRequest) (map[string]string, error)
}
