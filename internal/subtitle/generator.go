// Package subtitle times a script's narration into SRT and WebVTT captions.
package subtitle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

const DefaultWordsPerLine = 8

// DurationProber measures a media file in seconds; media's ffmpeg Operator fits.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Generator implements pipeline.SubtitleGenerator. Each scene spans its
// narration audio (or its estimate when the audio cannot be probed) and its
// words are spread evenly over that span.
type Generator struct {
	prober       DurationProber
	wordsPerLine int
	writers      []Writer
}

type Option func(*Generator)

func WithWordsPerLine(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.wordsPerLine = n
		}
	}
}

// NewGenerator returns a Generator; prober may be nil to time by estimates only.
func NewGenerator(prober DurationProber, opts ...Option) *Generator {
	g := &Generator{
		prober:       prober,
		wordsPerLine: DefaultWordsPerLine,
		writers:      []Writer{SRTWriter{}, VTTWriter{}},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) GenerateSubtitles(ctx context.Context, req pipeline.SubtitleRequest) (map[string]string, error) {
	if req.Script == nil || req.OutputBase == "" {
		return nil, errors.New("subtitle request needs a script and an output base")
	}
	sub := g.Build(ctx, req.Script)
	if len(sub.Lines) == 0 {
		return nil, fmt.Errorf("script %q has no narration to caption", req.Script.Title)
	}

	files := make(map[string]string, len(g.writers))
	for _, w := range g.writers {
		path := file.ReplaceExt(req.OutputBase, w.Ext())
		if err := w.Write(path, sub); err != nil {
			return files, fmt.Errorf("write %s subtitles: %w", w.Ext(), err)
		}
		files[w.Ext()] = path
	}
	log.Info("Wrote %d captions (%s) for %q", len(sub.Lines), sub.Language, req.Script.Title)
	return files, nil
}

// Build times every scene's narration in scene order.
func (g *Generator) Build(ctx context.Context, s *script.Script) *File {
	var (
		lines  []Line
		offset float64
	)
	for _, scene := range s.SortedScenes() {
		duration := g.sceneDuration(ctx, scene)
		words := strings.Fields(scene.Narration)
		if len(words) == 0 || duration <= 0 {
			offset += math.Max(duration, 0)
			continue
		}

		perWord := duration / float64(len(words))
		for i := 0; i < len(words); i += g.wordsPerLine {
			chunk := words[i:min(i+g.wordsPerLine, len(words))]
			start := offset + float64(i)*perWord
			end := math.Min(start+float64(len(chunk))*perWord, offset+duration)
			lines = append(lines, Line{
				Index:     len(lines) + 1,
				StartTime: seconds(start),
				EndTime:   seconds(end),
				Text:      strings.Join(chunk, " "),
			})
		}
		offset += duration
	}
	return &File{Lines: lines, Language: detectLanguage(lines)}
}

func (g *Generator) sceneDuration(ctx context.Context, scene script.Scene) float64 {
	if g.prober != nil && scene.AudioPath != "" {
		d, err := g.prober.Duration(ctx, scene.AudioPath)
		switch {
		case err != nil:
			log.Warn("Using estimated duration for scene %d captions: %v", scene.SceneNumber, err)
		case d <= 0:
			log.Warn("Using estimated duration for scene %d captions: probed duration %.3fs", scene.SceneNumber, d)
		default:
			return d
		}
	}
	return scene.DurationEstimate
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}

// detectLanguage picks the most common language across caption lines.
func detectLanguage(lines []Line) language.Tag {
	if len(lines) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)
	for _, line := range lines {
		lang := whatlanggo.DetectLang(line.Text).Iso6391()
		if lang == "" {
			continue
		}
		langMap[lang]++
	}

	var topLang string
	var topCount int
	for lang, count := range langMap {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}
	if topLang == "" {
		return language.Und
	}
	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}
