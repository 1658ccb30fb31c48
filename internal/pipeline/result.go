package pipeline

import (
	"time"

	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

type JobResult struct {
	JobID          string
	ScriptKey      string
	Status         jobs.Status
	VideoPaths     map[script.Platform]string
	ThumbnailPaths map[script.Platform]string
	SubtitlePaths  map[string]string
	// Errors holds unit and optional-stage failures. A run can complete with
	// a non-empty list.
	Errors []*StageError
	// Failure is the reason a run ended as failed.
	Failure  *StageError
	Duration time.Duration
}

func newJobResult(key string) *JobResult {
	return &JobResult{
		ScriptKey:      key,
		Status:         jobs.StatusPending,
		VideoPaths:     make(map[script.Platform]string),
		ThumbnailPaths: make(map[script.Platform]string),
		SubtitlePaths:  make(map[string]string),
	}
}

func (r *JobResult) Success() bool {
	return r.Status == jobs.StatusCompleted
}

// ErrorsFor filters the recorded errors by stage.
func (r *JobResult) ErrorsFor(stage jobs.Stage) []*StageError {
	var ret []*StageError
	for _, e := range r.Errors {
		if e.Stage == stage {
			ret = append(ret, e)
		}
	}
	return ret
}

// ErrorStrings renders every error, the failure last.
func (r *JobResult) ErrorStrings() []string {
	ret := make([]string, 0, len(r.Errors)+1)
	for _, e := range r.Errors {
		ret = append(ret, e.Error())
	}
	if r.Failure != nil {
		ret = append(ret, r.Failure.Error())
	}
	return ret
}
