package script

import (
	"fmt"
	"strings"
)

type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceOnyx    Voice = "onyx"
	VoiceNova    Voice = "nova"
	VoiceShimmer Voice = "shimmer"
)

func ParseVoice(s string) (Voice, error) {
	switch v := Voice(strings.ToLower(strings.TrimSpace(s))); v {
	case VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer:
		return v, nil
	default:
		return "", fmt.Errorf("unknown voice %q", s)
	}
}

// VoiceProfile is the narration voice and speaking speed for a niche.
type VoiceProfile struct {
	Voice Voice   `json:"voice" yaml:"voice"`
	Speed float64 `json:"speed" yaml:"speed"`
}

var DefaultVoiceProfile = VoiceProfile{Voice: VoiceOnyx, Speed: 1.0}

var nicheVoices = map[Niche]VoiceProfile{
	NicheScaryStories:           {VoiceOnyx, 0.9},
	NicheFinance:                {VoiceOnyx, 1.0},
	NicheLuxury:                 {VoiceNova, 0.95},
	NicheTrueCrime:              {VoiceOnyx, 0.9},
	NichePsychologyFacts:        {VoiceNova, 1.0},
	NicheHistory:                {VoiceOnyx, 0.95},
	NicheMotivation:             {VoiceEcho, 1.0},
	NicheSpaceAstronomy:         {VoiceOnyx, 0.95},
	NicheConspiracyMysteries:    {VoiceOnyx, 0.9},
	NicheAnimalFacts:            {VoiceNova, 1.0},
	NicheHealthWellness:         {VoiceNova, 1.0},
	NicheRelationshipAdvice:     {VoiceNova, 0.95},
	NicheTechGadgets:            {VoiceAlloy, 1.0},
	NicheLifeHacks:              {VoiceEcho, 1.05},
	NicheMythologyFolklore:      {VoiceFable, 0.9},
	NicheUnsolvedMysteries:      {VoiceOnyx, 0.9},
	NicheGeographyFacts:         {VoiceNova, 1.0},
	NicheAIFutureTech:           {VoiceAlloy, 1.0},
	NichePhilosophy:             {VoiceOnyx, 0.9},
	NicheBookSummaries:          {VoiceNova, 1.0},
	NicheCelebrityNetWorth:      {VoiceEcho, 1.0},
	NicheSurvivalTips:           {VoiceOnyx, 0.95},
	NicheSleepRelaxation:        {VoiceShimmer, 0.8},
	NicheNetflixRecommendations: {VoiceEcho, 1.0},
	NicheMockumentaryHowMade:    {VoiceFable, 0.95},
}

// ProfileFor returns the default voice profile of a niche.
func ProfileFor(n Niche) VoiceProfile {
	if p, ok := nicheVoices[n]; ok {
		return p
	}
	return DefaultVoiceProfile
}

// VoiceTable resolves voice profiles with optional per-niche overrides.
type VoiceTable struct {
	overrides map[Niche]VoiceProfile
}

func NewVoiceTable(overrides map[Niche]VoiceProfile) VoiceTable {
	return VoiceTable{overrides: overrides}
}

func (t VoiceTable) For(n Niche) VoiceProfile {
	if p, ok := t.overrides[n]; ok && p.Voice != "" {
		if p.Speed <= 0 {
			p.Speed = ProfileFor(n).Speed
		}
		return p
	}
	return ProfileFor(n)
}
