package media

import (
	"context"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// ProbeInfo is the part of ffprobe's report the pipeline reads.
type ProbeInfo struct {
	Duration float64 // seconds
	Streams  []Stream
}

type Stream struct {
	CodecType string // video, audio, subtitle
	CodecName string
	Width     int
	Height    int
}

// HasStream reports whether a stream of codecType is present.
func (p *ProbeInfo) HasStream(codecType string) bool {
	for _, s := range p.Streams {
		if s.CodecType == codecType {
			return true
		}
	}
	return false
}

// ClipRequest renders one still image over its narration.
type ClipRequest struct {
	Image    string
	Audio    string
	Output   string
	Platform script.Platform
	Duration float64 // seconds of narration, sizes the zoom
}

type Operator interface {
	Probe(ctx context.Context, path string) (*ProbeInfo, error)
	Duration(ctx context.Context, path string) (float64, error)
	SceneClip(ctx context.Context, req ClipRequest) error
	Concat(ctx context.Context, clips []string, output string) error
	MixMusic(ctx context.Context, video, music, output string, volume float64) error
	ExtractFrame(ctx context.Context, video, output string, at float64) error
}

func NewOperator(opts ...Option) Operator {
	return NewFfmpeg(opts...)
}
