package script

import (
	"fmt"
	"strings"
	"time"
)

// Niche is the content category of a script. It selects the narration voice
// and the thumbnail styling.
type Niche string

const (
	NicheScaryStories           Niche = "scary-stories"
	NicheFinance                Niche = "finance"
	NicheLuxury                 Niche = "luxury"
	NicheTrueCrime              Niche = "true-crime"
	NichePsychologyFacts        Niche = "psychology-facts"
	NicheHistory                Niche = "history"
	NicheMotivation             Niche = "motivation"
	NicheSpaceAstronomy         Niche = "space-astronomy"
	NicheConspiracyMysteries    Niche = "conspiracy-mysteries"
	NicheAnimalFacts            Niche = "animal-facts"
	NicheHealthWellness         Niche = "health-wellness"
	NicheRelationshipAdvice     Niche = "relationship-advice"
	NicheTechGadgets            Niche = "tech-gadgets"
	NicheLifeHacks              Niche = "life-hacks"
	NicheMythologyFolklore      Niche = "mythology-folklore"
	NicheUnsolvedMysteries      Niche = "unsolved-mysteries"
	NicheGeographyFacts         Niche = "geography-facts"
	NicheAIFutureTech           Niche = "ai-future-tech"
	NichePhilosophy             Niche = "philosophy"
	NicheBookSummaries          Niche = "book-summaries"
	NicheCelebrityNetWorth      Niche = "celebrity-net-worth"
	NicheSurvivalTips           Niche = "survival-tips"
	NicheSleepRelaxation        Niche = "sleep-relaxation"
	NicheNetflixRecommendations Niche = "netflix-recommendations"
	NicheMockumentaryHowMade    Niche = "mockumentary-howmade"
)

var niches = []Niche{
	NicheScaryStories, NicheFinance, NicheLuxury, NicheTrueCrime, NichePsychologyFacts,
	NicheHistory, NicheMotivation, NicheSpaceAstronomy, NicheConspiracyMysteries,
	NicheAnimalFacts, NicheHealthWellness, NicheRelationshipAdvice, NicheTechGadgets,
	NicheLifeHacks, NicheMythologyFolklore, NicheUnsolvedMysteries, NicheGeographyFacts,
	NicheAIFutureTech, NichePhilosophy, NicheBookSummaries, NicheCelebrityNetWorth,
	NicheSurvivalTips, NicheSleepRelaxation, NicheNetflixRecommendations,
	NicheMockumentaryHowMade,
}

// Niches returns every known niche.
func Niches() []Niche {
	return append([]Niche(nil), niches...)
}

func ParseNiche(s string) (Niche, error) {
	n := Niche(strings.ToLower(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", fmt.Errorf("unknown niche %q", s)
	}
	return n, nil
}

func (n Niche) Valid() bool {
	for _, known := range niches {
		if n == known {
			return true
		}
	}
	return false
}

// DisplayName turns "space-astronomy" into "Space Astronomy".
func (n Niche) DisplayName() string {
	parts := strings.Split(string(n), "-")
	for i, p := range parts {
		if p == "ai" {
			parts[i] = "AI"
			continue
		}
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// Platform is an output video format.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

// Platforms returns the supported platforms in their canonical order.
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformTikTok}
}

func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformYouTube, PlatformTikTok:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformTikTok
}

// ParsePlatforms parses a comma separated list, dropping duplicates.
func ParsePlatforms(csv string) ([]Platform, error) {
	ret := make([]Platform, 0, 2)
	seen := make(map[Platform]bool)
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := ParsePlatform(part)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		ret = append(ret, p)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("no platforms in %q", csv)
	}
	return ret, nil
}

// Resolution is the output video size.
func (p Platform) Resolution() (width, height int) {
	if p == PlatformTikTok {
		return 1080, 1920
	}
	return 1920, 1080
}

// ImageSize is the size requested from the image generator.
func (p Platform) ImageSize() (width, height int) {
	if p == PlatformTikTok {
		return 1024, 1536
	}
	return 1536, 1024
}

func (p Platform) AspectRatio() string {
	if p == PlatformTikTok {
		return "9:16"
	}
	return "16:9"
}

// VisualStyle keeps generated images consistent across scenes.
type VisualStyle struct {
	Environment       string            `json:"environment,omitempty"`
	ColorMood         string            `json:"color_mood,omitempty"`
	Texture           string            `json:"texture,omitempty"`
	RecurringElements map[string]string `json:"recurring_elements,omitempty"`
}

// PromptSuffix renders the style as a suffix for image prompts.
func (v *VisualStyle) PromptSuffix() string {
	if v == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if v.Environment != "" {
		parts = append(parts, "Setting: "+v.Environment)
	}
	if v.ColorMood != "" {
		parts = append(parts, "Color mood: "+v.ColorMood)
	}
	if v.Texture != "" {
		parts = append(parts, "Textures: "+v.Texture)
	}
	return strings.Join(parts, " | ")
}

// Scene is one narration + image + audio unit. ImagePath and AudioPath are
// filled in by the pipeline, never by the script author.
type Scene struct {
	SceneNumber      int     `json:"scene_number"`
	Narration        string  `json:"narration"`
	ImagePrompt      string  `json:"image_prompt"`
	DurationEstimate float64 `json:"duration_estimate"`
	ImagePath        string  `json:"image_path,omitempty"`
	AudioPath        string  `json:"audio_path,omitempty"`
}

// Script is the unit of work handed to the pipeline.
type Script struct {
	Title       string       `json:"title"`
	Niche       Niche        `json:"niche"`
	Scenes      []Scene      `json:"scenes"`
	VisualStyle *VisualStyle `json:"visual_style,omitempty"`
	Source      string       `json:"source,omitempty"`
	Author      string       `json:"author,omitempty"`
	URL         string       `json:"url,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitzero"`
	EnhancedAt  *time.Time   `json:"enhanced_at,omitempty"`

	// SourcePath is where the script was loaded from.
	SourcePath string `json:"-"`
}
