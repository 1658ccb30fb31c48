package checkpoint

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// Outcome is how a stage finished. Every outcome counts as complete.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDegraded Outcome = "degraded"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeDone, OutcomeSkipped, OutcomeDegraded:
		return true
	default:
		return false
	}
}

// Checkpoint is the durable progress record of one script.
type Checkpoint struct {
	JobID              string
	ScriptKey          string
	ScriptPath         string
	EnhancedScriptPath string
	Status             jobs.Status
	Stages             map[jobs.Stage]Outcome
	// Units maps stage -> scene number -> variant -> artifact path. The variant
	// is the platform for images and "" for audio.
	Units      map[jobs.Stage]map[int]map[string]string
	Videos     map[script.Platform]string
	Thumbnails map[script.Platform]string
	Subtitles  map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func New(jobID, key, scriptPath string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		JobID:      jobID,
		ScriptKey:  key,
		ScriptPath: scriptPath,
		Status:     jobs.StatusPending,
		Stages:     make(map[jobs.Stage]Outcome),
		Units:      make(map[jobs.Stage]map[int]map[string]string),
		Videos:     make(map[script.Platform]string),
		Thumbnails: make(map[script.Platform]string),
		Subtitles:  make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (c *Checkpoint) StageOutcome(stage jobs.Stage) (Outcome, bool) {
	o, ok := c.Stages[stage]
	return o, ok
}

func (c *Checkpoint) IsStageComplete(stage jobs.Stage) bool {
	_, ok := c.Stages[stage]
	return ok
}

// CompletedStages lists completed stages in pipeline order.
func (c *Checkpoint) CompletedStages() []jobs.Stage {
	ret := make([]jobs.Stage, 0, len(c.Stages))
	for _, s := range jobs.Stages() {
		if c.IsStageComplete(s) {
			ret = append(ret, s)
		}
	}
	return ret
}

// UnitPath returns the recorded artifact of a unit. It does not look at the disk.
func (c *Checkpoint) UnitPath(stage jobs.Stage, scene int, variant string) (string, bool) {
	p, ok := c.Units[stage][scene][variant]
	return p, ok && p != ""
}

// Scenes returns the scene numbers with at least one recorded unit, ascending.
func (c *Checkpoint) Scenes(stage jobs.Stage) []int {
	ret := make([]int, 0, len(c.Units[stage]))
	for n, variants := range c.Units[stage] {
		if len(variants) > 0 {
			ret = append(ret, n)
		}
	}
	sort.Ints(ret)
	return ret
}

func (c *Checkpoint) setUnit(stage jobs.Stage, scene int, variant, path string) {
	if c.Units[stage] == nil {
		c.Units[stage] = make(map[int]map[string]string)
	}
	if c.Units[stage][scene] == nil {
		c.Units[stage][scene] = make(map[string]string)
	}
	c.Units[stage][scene][variant] = path
}

func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	tmp := *c
	tmp.Stages = make(map[jobs.Stage]Outcome, len(c.Stages))
	for k, v := range c.Stages {
		tmp.Stages[k] = v
	}
	tmp.Units = make(map[jobs.Stage]map[int]map[string]string, len(c.Units))
	for stage, scenes := range c.Units {
		cs := make(map[int]map[string]string, len(scenes))
		for n, variants := range scenes {
			cv := make(map[string]string, len(variants))
			for k, v := range variants {
				cv[k] = v
			}
			cs[n] = cv
		}
		tmp.Units[stage] = cs
	}
	tmp.Videos = clonePlatformMap(c.Videos)
	tmp.Thumbnails = clonePlatformMap(c.Thumbnails)
	tmp.Subtitles = make(map[string]string, len(c.Subtitles))
	for k, v := range c.Subtitles {
		tmp.Subtitles[k] = v
	}
	return &tmp
}

func clonePlatformMap(in map[script.Platform]string) map[script.Platform]string {
	out := make(map[script.Platform]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type wireCheckpoint struct {
	JobID              string                               `json:"job_id"`
	ScriptKey          string                               `json:"script_key"`
	ScriptPath         string                               `json:"script_path"`
	EnhancedScriptPath string                               `json:"enhanced_script_path,omitempty"`
	Status             jobs.Status                          `json:"status"`
	Stages             map[string]Outcome                   `json:"stages"`
	Units              map[string]map[int]map[string]string `json:"units"`
	Videos             map[script.Platform]string           `json:"videos"`
	Thumbnails         map[script.Platform]string           `json:"thumbnails"`
	Subtitles          map[string]string                    `json:"subtitles"`
	CreatedAt          time.Time                            `json:"created_at"`
	UpdatedAt          time.Time                            `json:"updated_at"`
}

func (c Checkpoint) MarshalJSON() ([]byte, error) {
	w := wireCheckpoint{
		JobID:              c.JobID,
		ScriptKey:          c.ScriptKey,
		ScriptPath:         c.ScriptPath,
		EnhancedScriptPath: c.EnhancedScriptPath,
		Status:             c.Status,
		Stages:             make(map[string]Outcome, len(c.Stages)),
		Units:              make(map[string]map[int]map[string]string, len(c.Units)),
		Videos:             c.Videos,
		Thumbnails:         c.Thumbnails,
		Subtitles:          c.Subtitles,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
	for stage, o := range c.Stages {
		w.Stages[stage.String()] = o
	}
	for stage, scenes := range c.Units {
		w.Units[stage.String()] = scenes
	}
	return json.Marshal(w)
}

// UnmarshalJSON drops stages it does not know instead of failing the document.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var w wireCheckpoint
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cp := New(w.JobID, w.ScriptKey, w.ScriptPath)
	cp.EnhancedScriptPath = w.EnhancedScriptPath
	cp.Status = w.Status
	cp.CreatedAt = w.CreatedAt
	cp.UpdatedAt = w.UpdatedAt

	for name, o := range w.Stages {
		stage, err := jobs.ParseStage(name)
		if err != nil {
			log.Warn("Checkpoint %s: ignoring %v", w.ScriptKey, err)
			continue
		}
		if !o.Valid() {
			log.Warn("Checkpoint %s: ignoring stage %s with unknown outcome %q", w.ScriptKey, name, o)
			continue
		}
		cp.Stages[stage] = o
	}
	for name, scenes := range w.Units {
		stage, err := jobs.ParseStage(name)
		if err != nil {
			log.Warn("Checkpoint %s: ignoring units of %v", w.ScriptKey, err)
			continue
		}
		for n, variants := range scenes {
			for variant, path := range variants {
				if path != "" {
					cp.setUnit(stage, n, variant, path)
				}
			}
		}
	}
	for k, v := range w.Videos {
		cp.Videos[k] = v
	}
	for k, v := range w.Thumbnails {
		cp.Thumbnails[k] = v
	}
	for k, v := range w.Subtitles {
		cp.Subtitles[k] = v
	}
	if cp.Status == "" {
		cp.Status = jobs.StatusPending
	}
	if !cp.Status.Valid() {
		return fmt.Errorf("checkpoint %s: unknown status %q", w.ScriptKey, w.Status)
	}

	*c = *cp
	return nil
}
