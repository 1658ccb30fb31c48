// Package thumbnail builds a cover image per platform from a frame of the
// assembled video with the story title laid over it.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// FrameExtractor grabs one frame of a video as an image file; media's
// ffmpeg Operator fits.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, video, output string, at float64) error
}

// Size returns the thumbnail dimensions of a platform.
func Size(p script.Platform) (width, height int) {
	if p == script.PlatformTikTok {
		return 1080, 1920
	}
	return 1280, 720
}

type Generator struct {
	frames  FrameExtractor
	at      float64
	quality int
}

type Option func(*Generator)

// WithFrameAt sets the timestamp, in seconds, of the frame used.
func WithFrameAt(seconds float64) Option {
	return func(g *Generator) {
		if seconds >= 0 {
			g.at = seconds
		}
	}
}

func NewGenerator(frames FrameExtractor, opts ...Option) *Generator {
	g := &Generator{frames: frames, at: 1.0, quality: 90}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) GenerateThumbnail(ctx context.Context, req pipeline.ThumbnailRequest) (string, error) {
	if req.VideoPath == "" || req.OutputPath == "" {
		return "", errors.New("thumbnail request needs a video and an output path")
	}

	frame, err := g.grab(ctx, req)
	if err != nil {
		return "", err
	}

	w, h := Size(req.Platform)
	canvas := cover(frame, w, h)
	title := ""
	if req.Script != nil {
		title = req.Script.Title
	}
	drawTitle(canvas, title, req.Platform)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: g.quality}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := file.WriteAtomic(req.OutputPath, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	log.Info("Saved %s thumbnail (%dx%d): %s", req.Platform, w, h, req.OutputPath)
	return req.OutputPath, nil
}

// grab extracts the configured frame, falling back to the first frame for
// clips shorter than the offset.
func (g *Generator) grab(ctx context.Context, req pipeline.ThumbnailRequest) (image.Image, error) {
	tmp := req.OutputPath + ".frame.png"
	defer os.Remove(tmp)

	err := g.frames.ExtractFrame(ctx, req.VideoPath, tmp, g.at)
	if (err != nil || !file.Exists(tmp)) && g.at > 0 {
		log.Debug("No frame at %.1fs of %s, using the first frame", g.at, req.VideoPath)
		err = g.frames.ExtractFrame(ctx, req.VideoPath, tmp, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("extract frame: %w", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return nil, fmt.Errorf("extract frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// cover scales src to fill w x h, cropping the overflow around the center.
func cover(src image.Image, w, h int) *image.RGBA {
	b := src.Bounds()
	var crop image.Rectangle
	if b.Dx()*h > b.Dy()*w {
		cw := b.Dy() * w / h
		x0 := b.Min.X + (b.Dx()-cw)/2
		crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else {
		ch := b.Dx() * h / w
		y0 := b.Min.Y + (b.Dy()-ch)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)
	return dst
}

const (
	glyphW = 7 // basicfont.Face7x13 advance
	glyphH = 13
)

// drawTitle writes title in a dark band across the lower part of img.
// basicfont is a small bitmap face, so the text is rendered at native size
// and scaled up.
func drawTitle(img *image.RGBA, title string, p script.Platform) {
	title = strings.ToUpper(strings.TrimSpace(title))
	if title == "" {
		return
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	scale := max(w/200, 2)
	lines := wrap(title, max((w*9/10)/(glyphW*scale), 8))
	if len(lines) > 3 {
		lines = lines[:3]
		lines[2] = strings.TrimRight(lines[2], " ") + "..."
	}

	lineH := (glyphH + 4) * scale
	bandH := len(lines)*lineH + 2*scale*4
	bandTop := h - bandH - h/12
	if p == script.PlatformTikTok {
		bandTop = h*2/3 - bandH/2
	}
	band := image.Rect(0, bandTop, w, bandTop+bandH)
	draw.Draw(img, band, image.NewUniform(color.RGBA{A: 170}), image.Point{}, draw.Over)

	for i, line := range lines {
		text := renderLine(line)
		tw, th := text.Bounds().Dx()*scale, text.Bounds().Dy()*scale
		x := (w - tw) / 2
		y := bandTop + scale*4 + i*lineH
		draw.NearestNeighbor.Scale(img, image.Rect(x, y, x+tw, y+th), text, text.Bounds(), draw.Over, nil)
	}
}

// renderLine draws s in white on a transparent image at the face's native size.
func renderLine(s string) *image.RGBA {
	face := basicfont.Face7x13
	width := font.MeasureString(face, s).Ceil()
	img := image.NewRGBA(image.Rect(0, 0, max(width, 1), glyphH+4))
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(0, face.Ascent+2),
	}
	d.DrawString(s)
	return img
}

// wrap breaks s into lines of at most width characters on word boundaries.
func wrap(s string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
