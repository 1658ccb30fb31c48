package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// installMock writes an executable shell script named name into a temp dir
// placed first on PATH.
func installMock(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("mock binaries require a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return path
}

func TestFFmpeg_Probe(t *testing.T) {
	tests := []struct {
		name        string
		mockOutput  string
		exitCode    int
		duration    float64
		streams     []string
		expectError bool
	}{
		{
			name: "Video with audio",
			mockOutput: `{
				"streams": [
					{"codec_type": "video", "codec_name": "h264", "width": 1080, "height": 1920},
					{"codec_type": "audio", "codec_name": "aac"}
				],
				"format": {"duration": "42.517000"}
			}`,
			duration: 42.517,
			streams:  []string{"video", "audio"},
		},
		{
			name:       "Audio only",
			mockOutput: `{"streams": [{"codec_type": "audio", "codec_name": "mp3"}], "format": {"duration": "7.2"}}`,
			duration:   7.2,
			streams:    []string{"audio"},
		},
		{
			name:       "No format duration",
			mockOutput: `{"streams": []}`,
			streams:    []string{},
		},
		{
			name:        "Invalid JSON",
			mockOutput:  `{"streams": [invalid json`,
			expectError: true,
		},
		{
			name:        "Bad duration",
			mockOutput:  `{"format": {"duration": "N/A"}}`,
			expectError: true,
		},
		{
			name:        "Non-zero exit",
			mockOutput:  `{}`,
			exitCode:    1,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installMock(t, "ffprobe", "echo '"+tt.mockOutput+"'\nexit "+strconv.Itoa(tt.exitCode)+"\n")

			info, err := NewFfmpeg().Probe(context.Background(), "dummy.mp4")
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.duration, info.Duration, 1e-9)
			require.Len(t, info.Streams, len(tt.streams))
			for i, codecType := range tt.streams {
				assert.Equal(t, codecType, info.Streams[i].CodecType)
				assert.True(t, info.HasStream(codecType))
			}
		})
	}
}

func TestFFmpeg_Duration(t *testing.T) {
	installMock(t, "ffprobe", `echo '{"format": {"duration": "3.5"}}'`+"\n")
	d, err := NewFfmpeg().Duration(context.Background(), "scene_01.mp3")
	require.NoError(t, err)
	assert.Equal(t, 3.5, d)

	installMock(t, "ffprobe", `echo '{"streams": []}'`+"\n")
	_, err = NewFfmpeg().Duration(context.Background(), "scene_01.mp3")
	assert.ErrorContains(t, err, "no duration")
}

func TestFFmpeg_probeArgs(t *testing.T) {
	args := NewFfmpeg().probeArgs("/path/to/video.mp4")
	assert.Equal(t, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"/path/to/video.mp4",
	}, args)
}

func TestFFmpeg_clipArgs(t *testing.T) {
	req := ClipRequest{Image: "s1.png", Audio: "s1.mp3", Output: "s1.mp4", Platform: script.PlatformTikTok, Duration: 2}

	args := NewFfmpeg().clipArgs(req)
	joined := strings.Join(args, " ")
	assert.Equal(t, []string{"-y", "-loop", "1", "-i", "s1.png", "-i", "s1.mp3"}, args[:7])
	assert.Contains(t, joined, "zoompan=z='min(zoom+0.0005,1.1)'")
	assert.Contains(t, joined, "d=61:s=1080x1920:fps=30")
	assert.Contains(t, joined, "-c:v libx264 -preset medium -crf 23")
	assert.Contains(t, joined, "-c:a aac -b:a 192k -pix_fmt yuv420p -shortest")
	assert.Equal(t, "s1.mp4", args[len(args)-1])

	still := NewFfmpeg(WithKenBurns(false), WithFPS(24)).clipArgs(ClipRequest{Platform: script.PlatformYouTube})
	joined = strings.Join(still, " ")
	assert.NotContains(t, joined, "zoompan")
	assert.Contains(t, joined, "scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080")
}

func TestFFmpeg_concatAndMixArgs(t *testing.T) {
	ff := NewFfmpeg()
	assert.Equal(t, []string{"-y", "-f", "concat", "-safe", "0", "-i", "list.txt", "-c", "copy", "out.mp4"},
		ff.concatArgs("list.txt", "out.mp4"))

	mix := strings.Join(ff.mixArgs("in.mp4", "bed.mp3", "out.mp4", 0.15), " ")
	assert.Contains(t, mix, "[1:a]volume=0.15[music];[0:a][music]amix=inputs=2:duration=first:dropout_transition=2[aout]")
	assert.Contains(t, mix, "-map 0:v -map [aout] -c:v copy")

	frame := ff.frameArgs("in.mp4", "frame.png", 1)
	assert.Equal(t, []string{"-y", "-ss", "1.000", "-i", "in.mp4", "-frames:v", "1", "-q:v", "2", "frame.png"}, frame)
}

func TestFFmpeg_ConcatWritesList(t *testing.T) {
	// The mock copies the concat list to the output so the test can read it.
	installMock(t, "ffmpeg", `while [ $# -gt 1 ]; do
  if [ "$1" = "-i" ]; then list="$2"; fi
  shift
done
cp "$list" "$1"
`)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")
	clips := []string{filepath.Join(dir, "scene_01.mp4"), filepath.Join(dir, "it's_02.mp4")}

	require.NoError(t, NewFfmpeg().Concat(context.Background(), clips, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		"file '"+clips[0]+"'\nfile '"+filepath.Join(dir, `it'\''s_02.mp4`)+"'\n",
		string(data))
	assert.NoFileExists(t, out+".txt")

	assert.Error(t, NewFfmpeg().Concat(context.Background(), nil, out))
}

func TestFFmpeg_RunReportsStderr(t *testing.T) {
	installMock(t, "ffmpeg", "echo 'Invalid data found when processing input' >&2\nexit 1\n")
	err := NewFfmpeg().ExtractFrame(context.Background(), "in.mp4", "out.png", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestErrorCases(t *testing.T) {
	t.Setenv("PATH", "")

	_, err := NewFfmpeg().Probe(context.Background(), "test.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe")

	err = NewFfmpeg(WithBinaries("my-ffmpeg", "")).ExtractFrame(context.Background(), "in.mp4", "out.png", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "my-ffmpeg")
}

func TestRealFFProbe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test that requires actual ffprobe")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available, skipping real test")
	}
	_, err := NewFfmpeg().Probe(context.Background(), filepath.Join(t.TempDir(), "missing-input.mp4"))
	assert.Error(t, err)
}
