package imagegen

import (
	"maps"
	"slices"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// nicheLook is the photographic framing added around every prompt of a niche.
type nicheLook struct {
	Prefix string
	Finish string
}

var nicheLooks = map[script.Niche]nicheLook{
	script.NicheScaryStories: {
		Prefix: "Cinematic still from a prestige horror film, shot on 35mm film with anamorphic lens.",
		Finish: "Diffused volumetric lighting, deep shadows, desaturated teal and amber grade, film grain. Photorealistic, hyperdetailed.",
	},
	script.NicheFinance: {
		Prefix: "Professional stock photography style, clean modern aesthetic.",
		Finish: "Sharp focus, bright even lighting, clean vibrant colors. High resolution, corporate quality.",
	},
	script.NicheLuxury: {
		Prefix: "Ultra-luxury lifestyle photography, magazine-quality editorial style.",
		Finish: "Soft golden hour light, rich warm tones with champagne highlights, deep blacks. Magazine editorial quality.",
	},
}

var defaultLook = nicheLook{
	Prefix: "Cinematic, high quality illustration.",
	Finish: "Dramatic lighting, rich detail, professional composition.",
}

// BuildPrompt assembles the final image prompt for one scene and platform:
// niche framing, the scene prompt, the story's visual style and a
// composition hint matching the platform's aspect ratio.
func BuildPrompt(s *script.Script, scene script.Scene, p script.Platform) string {
	look, ok := nicheLooks[s.Niche]
	if !ok {
		look = defaultLook
	}

	parts := []string{look.Prefix, strings.TrimRight(strings.TrimSpace(scene.ImagePrompt), ".") + "."}
	if suffix := s.VisualStyle.PromptSuffix(); suffix != "" {
		parts = append(parts, suffix+".")
	}
	if s.VisualStyle != nil {
		for _, name := range slices.Sorted(maps.Keys(s.VisualStyle.RecurringElements)) {
			parts = append(parts, name+": "+s.VisualStyle.RecurringElements[name]+".")
		}
	}
	parts = append(parts, look.Finish, compositionHint(p))
	return strings.Join(parts, " ")
}

func compositionHint(p script.Platform) string {
	if p == script.PlatformTikTok {
		return "Vertical 9:16 composition, subject centered with headroom for captions."
	}
	return "Widescreen 16:9 composition following the rule of thirds."
}
