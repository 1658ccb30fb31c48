package jobs

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a pipeline job.
type Status string

const (
	StatusPending              Status = "pending"
	StatusEnhancing            Status = "enhancing"
	StatusGeneratingImages     Status = "generating_images"
	StatusGeneratingAudio      Status = "generating_audio"
	StatusAssemblingVideo      Status = "assembling_video"
	StatusGeneratingThumbnails Status = "generating_thumbnails"
	StatusGeneratingSubtitles  Status = "generating_subtitles"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

var lifecycle = []Status{
	StatusPending,
	StatusEnhancing,
	StatusGeneratingImages,
	StatusGeneratingAudio,
	StatusAssemblingVideo,
	StatusGeneratingThumbnails,
	StatusGeneratingSubtitles,
	StatusCompleted,
}

// Order is the position of s in the lifecycle, or -1 for failed and unknown values.
func (s Status) Order() int {
	for i, v := range lifecycle {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool {
	return s == StatusFailed || s.Order() >= 0
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a job in this state is doing work right now.
func (s Status) IsActive() bool {
	return s.Valid() && !s.IsTerminal() && s != StatusPending
}

// CanTransition reports whether moving from s to next is allowed. Moves go
// forward along the lifecycle; failed is reachable from every non-terminal
// state; a terminal job may be restarted at pending.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return !s.IsTerminal()
	}
	if s.IsTerminal() {
		return next == StatusPending
	}
	if next == StatusFailed {
		return true
	}
	return next.Order() > s.Order()
}

// Stage is one phase of the pipeline. The set is closed; persisted stage
// names are parsed back through ParseStage.
type Stage int

const (
	StageEnhance Stage = iota + 1
	StageImages
	StageAudio
	StageVideo
	StageThumbnails
	StageSubtitles
)

var stageOrder = []Stage{
	StageEnhance,
	StageImages,
	StageAudio,
	StageVideo,
	StageThumbnails,
	StageSubtitles,
}

var stageNames = map[Stage]string{
	StageEnhance:    "enhance",
	StageImages:     "images",
	StageAudio:      "audio",
	StageVideo:      "video",
	StageThumbnails: "thumbnails",
	StageSubtitles:  "subtitles",
}

// Stages returns every stage in execution order.
func Stages() []Stage {
	return append([]Stage(nil), stageOrder...)
}

func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Status is the in-progress status a job reports while the stage runs.
func (s Stage) Status() Status {
	switch s {
	case StageEnhance:
		return StatusEnhancing
	case StageImages:
		return StatusGeneratingImages
	case StageAudio:
		return StatusGeneratingAudio
	case StageVideo:
		return StatusAssemblingVideo
	case StageThumbnails:
		return StatusGeneratingThumbnails
	case StageSubtitles:
		return StatusGeneratingSubtitles
	default:
		return StatusPending
	}
}

// PerScene reports whether the stage's unit of work is a single scene.
func (s Stage) PerScene() bool {
	return s == StageImages || s == StageAudio
}

// Optional stages never block completion of the job.
func (s Stage) Optional() bool {
	return s == StageThumbnails || s == StageSubtitles
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	stage, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

type EnqueueRequest struct {
	Source    string
	DedupeKey string
	Payload   JobPayload
}

// JobPayload is everything the executor needs to run one script.
type JobPayload struct {
	ScriptPath string   `json:"script_path"`
	Platforms  []string `json:"platforms"`
	Enhance    bool     `json:"enhance"`
	Thumbnails bool     `json:"thumbnails"`
	Subtitles  bool     `json:"subtitles"`
	MusicPath  string   `json:"music_path,omitempty"`
}

// JobSummary is the outcome of a finished run.
type JobSummary struct {
	CheckpointJobID string            `json:"checkpoint_job_id,omitempty"`
	VideoPaths      map[string]string `json:"video_paths,omitempty"`
	Errors          []string          `json:"errors,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
}

type Job struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	DedupeKey string      `json:"dedupe_key"`
	Payload   JobPayload  `json:"payload"`
	Status    Status      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Result    *JobSummary `json:"result,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
