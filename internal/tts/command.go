package tts

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// Command runs an external TTS program once per scene. edge-tts gets its own
// flags; any other program is called as `<cmd> --text T --voice V --speed S
// --output PATH` and a .py path runs under python3.
type Command struct {
	cmd       string
	edgeVoice string
}

// NewCommand returns a Command for cmd. An empty cmd falls back to edge-tts
// when it is on PATH.
func NewCommand(cmd, edgeVoice string) (*Command, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		if _, err := exec.LookPath("edge-tts"); err != nil {
			return nil, fmt.Errorf("no TTS command configured and edge-tts not found: %w", err)
		}
		cmd = "edge-tts"
	}
	if edgeVoice == "" {
		edgeVoice = "en-US-GuyNeural"
	}
	return &Command{cmd: cmd, edgeVoice: edgeVoice}, nil
}

func (c *Command) args(text string, voice script.VoiceProfile, outputPath string) (string, []string) {
	switch {
	case filepath.Base(c.cmd) == "edge-tts":
		return c.cmd, []string{
			"--voice", c.edgeVoice,
			"--rate=" + edgeRate(voice.Speed),
			"--text", text,
			"--write-media", outputPath,
		}
	case strings.HasSuffix(c.cmd, ".py"):
		return "python3", append([]string{c.cmd}, genericArgs(text, voice, outputPath)...)
	default:
		return c.cmd, genericArgs(text, voice, outputPath)
	}
}

func genericArgs(text string, voice script.VoiceProfile, outputPath string) []string {
	args := []string{"--text", text}
	if voice.Voice != "" {
		args = append(args, "--voice", string(voice.Voice))
	}
	if voice.Speed > 0 {
		args = append(args, "--speed", strconv.FormatFloat(voice.Speed, 'f', -1, 64))
	}
	return append(args, "--output", outputPath)
}

// edgeRate converts a speed multiplier to edge-tts's signed percentage.
func edgeRate(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	pct := int(math.Round((speed - 1) * 100))
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

func (c *Command) Synthesize(ctx context.Context, text string, voice script.VoiceProfile, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}

	// Write to a temp name first so a killed process never leaves a partial mp3.
	tmp := outputPath + ".part.mp3"
	name, args := c.args(text, voice, tmp)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move audio into place: %w", err)
	}
	return nil
}
