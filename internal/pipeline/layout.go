package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// Layout computes artifact paths under the output root:
//
//	<root>/<niche>/images/<title>/scene_01_youtube.png
//	<root>/<niche>/audio/<title>/scene_01.mp3
//	<root>/<niche>/videos/<title>/            scene clips
//	<root>/<niche>/final/<niche>_<title>_youtube.mp4
//	<root>/<niche>/final/<title>.srt
//	<root>/<niche>/thumbnails/<title>_youtube.jpg
//	<root>/<niche>/scripts/<title>_enhanced.json
//	<root>/<niche>/.checkpoints/
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) NicheDir(n script.Niche) string {
	return filepath.Join(l.Root, string(n))
}

func (l Layout) ImagePath(s *script.Script, scene int, p script.Platform) string {
	return filepath.Join(l.NicheDir(s.Niche), "images", s.SafeTitle(), fmt.Sprintf("scene_%02d_%s.png", scene, p))
}

func (l Layout) AudioPath(s *script.Script, scene int) string {
	return filepath.Join(l.NicheDir(s.Niche), "audio", s.SafeTitle(), fmt.Sprintf("scene_%02d.mp3", scene))
}

// ClipDir holds per-scene clips and intermediate concat output.
func (l Layout) ClipDir(s *script.Script) string {
	return filepath.Join(l.NicheDir(s.Niche), "videos", s.SafeTitle())
}

func (l Layout) VideoPath(s *script.Script, p script.Platform) string {
	return filepath.Join(l.NicheDir(s.Niche), "final", fmt.Sprintf("%s_%s_%s.mp4", s.Niche, s.SafeTitle(), p))
}

func (l Layout) ThumbnailPath(s *script.Script, p script.Platform) string {
	return filepath.Join(l.NicheDir(s.Niche), "thumbnails", fmt.Sprintf("%s_%s.jpg", s.SafeTitle(), p))
}

// SubtitleBase is the subtitle path without extension.
func (l Layout) SubtitleBase(s *script.Script) string {
	return filepath.Join(l.NicheDir(s.Niche), "final", s.SafeTitle())
}

func (l Layout) EnhancedScriptPath(s *script.Script) string {
	return filepath.Join(l.NicheDir(s.Niche), "scripts", s.SafeTitle()+"_enhanced.json")
}

func (l Layout) CheckpointDir(n script.Niche) string {
	return filepath.Join(l.NicheDir(n), ".checkpoints")
}

// Ensure creates the directory tree of a script.
func (l Layout) Ensure(s *script.Script) error {
	dirs := []string{
		filepath.Dir(l.ImagePath(s, 1, script.PlatformYouTube)),
		filepath.Dir(l.AudioPath(s, 1)),
		l.ClipDir(s),
		filepath.Dir(l.VideoPath(s, script.PlatformYouTube)),
		filepath.Dir(l.ThumbnailPath(s, script.PlatformYouTube)),
		filepath.Dir(l.EnhancedScriptPath(s)),
		l.CheckpointDir(s.Niche),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
