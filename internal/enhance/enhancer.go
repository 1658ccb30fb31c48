// Package enhance rewrites a script with a language model before production:
// tighter narration, richer image prompts and a shared visual style.
package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

const systemPrompt = `You are an expert content creator for short-form videos.
Your task is to enhance scripts for maximum engagement while maintaining the original story.

Guidelines:
1. Improve narration for better flow and emotional impact
2. Enhance image prompts for more vivid, consistent visuals
3. Maintain the original story's essence
4. Keep scenes concise for short-form content
5. Keep every scene_number exactly as given

Output format: a single valid JSON object.`

// JSONFunc sends prompt to a model and decodes its JSON reply into out.
// llm.Client.ChatJSON and gemini.Client.GenerateJSON both fit.
type JSONFunc func(ctx context.Context, prompt, systemPrompt string, out any) error

type Enhancer struct {
	generate  JSONFunc
	narration bool
	prompts   bool
	style     bool
}

type Option func(*Enhancer)

// WithTasks selects what the model is asked to improve. All are on by default.
func WithTasks(narration, imagePrompts, visualStyle bool) Option {
	return func(e *Enhancer) {
		e.narration = narration
		e.prompts = imagePrompts
		e.style = visualStyle
	}
}

func New(generate JSONFunc, opts ...Option) *Enhancer {
	e := &Enhancer{generate: generate, narration: true, prompts: true, style: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type reply struct {
	VisualStyle *script.VisualStyle `json:"visual_style"`
	Scenes      []replyScene        `json:"scenes"`
}

type replyScene struct {
	SceneNumber int    `json:"scene_number"`
	Narration   string `json:"narration"`
	ImagePrompt string `json:"image_prompt"`
}

// Enhance returns an improved copy of s. The title, scene numbers and
// duration estimates never change, since artifact paths derive from them; a
// scene missing from the reply keeps its text.
func (e *Enhancer) Enhance(ctx context.Context, s *script.Script) (*script.Script, error) {
	if e.generate == nil {
		return nil, errors.New("enhancer has no model")
	}
	prompt, err := e.buildPrompt(s)
	if err != nil {
		return nil, err
	}

	var r reply
	if err := e.generate(ctx, prompt, systemPrompt, &r); err != nil {
		return nil, fmt.Errorf("enhance %q: %w", s.Title, err)
	}
	out, err := apply(s, &r)
	if err != nil {
		return nil, fmt.Errorf("enhance %q: %w", s.Title, err)
	}
	log.Info("Enhanced script %q (%d scenes)", out.Title, len(out.Scenes))
	return out, nil
}

func (e *Enhancer) buildPrompt(s *script.Script) (string, error) {
	type sceneIn struct {
		SceneNumber int    `json:"scene_number"`
		Narration   string `json:"narration"`
		ImagePrompt string `json:"image_prompt"`
	}
	scenes := make([]sceneIn, 0, len(s.Scenes))
	for _, sc := range s.SortedScenes() {
		scenes = append(scenes, sceneIn{sc.SceneNumber, sc.Narration, sc.ImagePrompt})
	}
	scenesJSON, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return "", err
	}

	var prompt strings.Builder
	prompt.WriteString(fmt.Sprintf("Enhance this %s script.\n\nTasks:\n", s.Niche.DisplayName()))
	if e.narration {
		prompt.WriteString("- Improve narration for better flow and emotional impact\n")
	}
	if e.prompts {
		prompt.WriteString("- Enhance image prompts for more vivid, cinematic visuals\n")
	}
	if e.style {
		prompt.WriteString("- Add a visual_style object for consistency across scenes\n")
	}
	prompt.WriteString(fmt.Sprintf("\nTitle: %s\nNiche: %s\nScenes:\n%s\n\n", s.Title, s.Niche, scenesJSON))
	prompt.WriteString(`Return a JSON object with:
{
  "visual_style": {
    "environment": "consistent environment description",
    "color_mood": "color palette and mood",
    "texture": "surface and material details",
    "recurring_elements": {"element_name": "description"}
  },
  "scenes": [
    {"scene_number": 1, "narration": "enhanced narration", "image_prompt": "enhanced image prompt"}
  ]
}`)
	return prompt.String(), nil
}

func apply(orig *script.Script, r *reply) (*script.Script, error) {
	if len(r.Scenes) == 0 {
		return nil, errors.New("model returned no scenes")
	}
	byNumber := make(map[int]replyScene, len(r.Scenes))
	for _, sc := range r.Scenes {
		byNumber[sc.SceneNumber] = sc
	}

	out := orig.Clone()
	out.EnhancedAt = nil
	matched := 0
	for i := range out.Scenes {
		sc, ok := byNumber[out.Scenes[i].SceneNumber]
		if !ok {
			continue
		}
		matched++
		if strings.TrimSpace(sc.Narration) != "" {
			out.Scenes[i].Narration = strings.TrimSpace(sc.Narration)
		}
		if strings.TrimSpace(sc.ImagePrompt) != "" {
			out.Scenes[i].ImagePrompt = strings.TrimSpace(sc.ImagePrompt)
		}
	}
	if matched == 0 {
		return nil, errors.New("model reply matched no scene numbers")
	}
	if matched < len(out.Scenes) {
		log.Warn("Enhancement covered %d of %d scenes of %q", matched, len(out.Scenes), orig.Title)
	}

	if r.VisualStyle != nil && r.VisualStyle.PromptSuffix() != "" {
		out.VisualStyle = r.VisualStyle
	}
	return out, nil
}
