package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

type ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	fps        int
	kenBurns   bool
}

// NewFfmpeg returns an Operator backed by the ffmpeg and ffprobe binaries.
func NewFfmpeg(opts ...Option) ffmpeg {
	ff := ffmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		fps:        30,
		kenBurns:   true,
	}
	for _, opt := range opts {
		opt(&ff)
	}
	return ff
}

type Option func(*ffmpeg)

// WithBinaries overrides the ffmpeg and ffprobe commands. Empty keeps the default.
func WithBinaries(ffmpegCmd, ffprobeCmd string) Option {
	return func(ff *ffmpeg) {
		if ffmpegCmd != "" {
			ff.ffmpegCmd = ffmpegCmd
		}
		if ffprobeCmd != "" {
			ff.ffprobeCmd = ffprobeCmd
		}
	}
}

func WithFPS(fps int) Option {
	return func(ff *ffmpeg) {
		if fps > 0 {
			ff.fps = fps
		}
	}
}

// WithKenBurns toggles the slow zoom on scene clips; off scales and pads.
func WithKenBurns(enabled bool) Option {
	return func(ff *ffmpeg) { ff.kenBurns = enabled }
}

func (ff ffmpeg) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, ff.probeArgs(path)...)

	output, err := cmd.Output()
	if err != nil {
		log.Error("Failed to run ffprobe on %s: %v", path, err)
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}

	var probeResult struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		log.Error("Failed to parse ffprobe output: %v", err)
		return nil, err
	}

	info := &ProbeInfo{Streams: make([]Stream, 0, len(probeResult.Streams))}
	if probeResult.Format.Duration != "" {
		info.Duration, err = strconv.ParseFloat(probeResult.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("ffprobe %s: bad duration %q", filepath.Base(path), probeResult.Format.Duration)
		}
	}
	for _, s := range probeResult.Streams {
		info.Streams = append(info.Streams, Stream{
			CodecType: s.CodecType,
			CodecName: s.CodecName,
			Width:     s.Width,
			Height:    s.Height,
		})
	}
	return info, nil
}

// Duration returns the container duration of path in seconds.
func (ff ffmpeg) Duration(ctx context.Context, path string) (float64, error) {
	info, err := ff.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, fmt.Errorf("ffprobe %s: no duration", filepath.Base(path))
	}
	return info.Duration, nil
}

func (ff ffmpeg) SceneClip(ctx context.Context, req ClipRequest) error {
	return ff.run(ctx, ff.clipArgs(req))
}

// Concat joins clips with the concat demuxer without re-encoding. The list
// file is written next to output and removed afterwards.
func (ff ffmpeg) Concat(ctx context.Context, clips []string, output string) error {
	if len(clips) == 0 {
		return fmt.Errorf("nothing to concatenate")
	}
	listPath := output + ".txt"
	var list strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			return err
		}
		list.WriteString(fmt.Sprintf("file '%s'\n", strings.ReplaceAll(filepath.ToSlash(abs), "'", `'\''`)))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	return ff.run(ctx, ff.concatArgs(listPath, output))
}

func (ff ffmpeg) MixMusic(ctx context.Context, video, music, output string, volume float64) error {
	return ff.run(ctx, ff.mixArgs(video, music, output, volume))
}

func (ff ffmpeg) ExtractFrame(ctx context.Context, video, output string, at float64) error {
	return ff.run(ctx, ff.frameArgs(video, output, at))
}

func (ff ffmpeg) run(ctx context.Context, args []string) error {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := lastLines(stderr.String(), 5)
		log.Error("ffmpeg failed: %v: %s", err, msg)
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}

func (ffmpeg) probeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

func (ff ffmpeg) clipArgs(req ClipRequest) []string {
	w, h := req.Platform.Resolution()
	size := fmt.Sprintf("%dx%d", w, h)

	var filter string
	if ff.kenBurns {
		frames := int(req.Duration*float64(ff.fps)) + 1
		filter = fmt.Sprintf(
			"[0:v]scale=8000:-1,zoompan=z='min(zoom+0.0005,1.1)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%s:fps=%d[v]",
			frames, size, ff.fps)
	} else {
		filter = fmt.Sprintf(
			"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2[v]",
			w, h, w, h)
	}

	return []string{
		"-y",
		"-loop", "1",
		"-i", req.Image,
		"-i", req.Audio,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "1:a",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		req.Output,
	}
}

func (ffmpeg) concatArgs(listPath, output string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	}
}

func (ffmpeg) mixArgs(video, music, output string, volume float64) []string {
	return []string{
		"-y",
		"-i", video,
		"-stream_loop", "-1",
		"-i", music,
		"-filter_complex", fmt.Sprintf(
			"[1:a]volume=%s[music];[0:a][music]amix=inputs=2:duration=first:dropout_transition=2[aout]",
			strconv.FormatFloat(volume, 'f', -1, 64)),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		output,
	}
}

func (ffmpeg) frameArgs(video, output string, at float64) []string {
	return []string{
		"-y",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", video,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// clipName is the per-scene clip file inside a work directory.
func clipName(scene int, p script.Platform) string {
	return fmt.Sprintf("scene_%02d_%s.mp4", scene, p)
}
