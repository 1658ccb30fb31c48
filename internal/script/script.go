package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/pkg/file"
)

// DefaultSceneDuration is used when a script omits duration_estimate.
const DefaultSceneDuration = 10.0

const safeTitleMaxLen = 50

var (
	nonWordPattern    = regexp.MustCompile(`[^\w\s-]`)
	whitespacePattern = regexp.MustCompile(`[\s-]+`)

	ErrNoScenes = errors.New("script has no scenes")
)

// Load reads a script JSON file and records its path as the script identity.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}

	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	for i := range s.Scenes {
		if s.Scenes[i].DurationEstimate == 0 {
			s.Scenes[i].DurationEstimate = DefaultSceneDuration
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	s.SourcePath = path

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the script as indented JSON, replacing path atomically.
func (s *Script) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return file.WriteAtomic(path, append(data, '\n'), 0o644)
}

func (s *Script) Validate() error {
	if s == nil {
		return errors.New("script is nil")
	}
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title is required")
	}
	if !s.Niche.Valid() {
		return fmt.Errorf("unknown niche %q", s.Niche)
	}
	if len(s.Scenes) == 0 {
		return ErrNoScenes
	}

	seen := make(map[int]bool, len(s.Scenes))
	for i, scene := range s.Scenes {
		if scene.SceneNumber <= 0 {
			return fmt.Errorf("scene at position %d: scene_number must be positive", i)
		}
		if seen[scene.SceneNumber] {
			return fmt.Errorf("duplicate scene_number %d", scene.SceneNumber)
		}
		seen[scene.SceneNumber] = true
		if strings.TrimSpace(scene.Narration) == "" {
			return fmt.Errorf("scene %d: narration is required", scene.SceneNumber)
		}
		if scene.DurationEstimate <= 0 {
			return fmt.Errorf("scene %d: duration_estimate must be positive", scene.SceneNumber)
		}
	}
	return nil
}

// SafeTitle is a filesystem friendly form of the title.
func (s *Script) SafeTitle() string {
	return SafeName(s.Title)
}

// SafeName lowercases the first 50 characters of name, drops punctuation and
// joins words with underscores.
func SafeName(name string) string {
	runes := []rune(strings.TrimSpace(name))
	if len(runes) > safeTitleMaxLen {
		runes = runes[:safeTitleMaxLen]
	}
	out := nonWordPattern.ReplaceAllString(strings.ToLower(string(runes)), "")
	out = whitespacePattern.ReplaceAllString(strings.TrimSpace(out), "_")
	if out == "" {
		return "untitled"
	}
	return out
}

// Key is the stable identity the checkpoint is stored under.
func (s *Script) Key() string {
	if s.SourcePath != "" {
		return filepath.Clean(s.SourcePath)
	}
	return string(s.Niche) + "/" + s.SafeTitle()
}

// SortedScenes returns a copy of the scenes ordered by ascending scene number.
func (s *Script) SortedScenes() []Scene {
	ret := append([]Scene(nil), s.Scenes...)
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].SceneNumber < ret[j].SceneNumber
	})
	return ret
}

// SceneNumbers returns the scene numbers in ascending order.
func (s *Script) SceneNumbers() []int {
	ret := make([]int, 0, len(s.Scenes))
	for _, scene := range s.SortedScenes() {
		ret = append(ret, scene.SceneNumber)
	}
	return ret
}

// Scene looks a scene up by number.
func (s *Script) Scene(number int) (Scene, bool) {
	for _, scene := range s.Scenes {
		if scene.SceneNumber == number {
			return scene, true
		}
	}
	return Scene{}, false
}

// TotalDuration sums the scene duration estimates in seconds.
func (s *Script) TotalDuration() float64 {
	var total float64
	for _, scene := range s.Scenes {
		total += scene.DurationEstimate
	}
	return total
}

// Clone returns a deep copy that can be mutated without touching s.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	c := *s
	c.Scenes = append([]Scene(nil), s.Scenes...)
	if s.VisualStyle != nil {
		vs := *s.VisualStyle
		if s.VisualStyle.RecurringElements != nil {
			vs.RecurringElements = make(map[string]string, len(s.VisualStyle.RecurringElements))
			for k, v := range s.VisualStyle.RecurringElements {
				vs.RecurringElements[k] = v
			}
		}
		c.VisualStyle = &vs
	}
	if s.EnhancedAt != nil {
		t := *s.EnhancedAt
		c.EnhancedAt = &t
	}
	return &c
}
