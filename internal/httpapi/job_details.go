package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/service"
)

type jobDetailResponse struct {
	Job        *jobs.Job              `json:"job"`
	Progress   jobProgressResponse    `json:"progress"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
}

type jobProgressResponse struct {
	CompletedStages []jobs.Stage `json:"completed_stages"`
	TotalStages     int          `json:"total_stages"`
	Percent         float64      `json:"percent"`
}

func (s *Server) handleJobDetailRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "job id is required")
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		s.handleJobDetail(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "retry":
		s.handleJobRetry(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobDetailResponse{Job: job}
	cp, err := s.scripts.Checkpoint(r.Context(), job.Payload.ScriptPath)
	switch {
	case err == nil:
		resp.Checkpoint = cp
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Progress = progressOf(job, cp)
	writeJSON(w, http.StatusOK, resp)
}

// progressOf counts the stages this job will run and how many of them the
// checkpoint already records.
func progressOf(job *jobs.Job, cp *checkpoint.Checkpoint) jobProgressResponse {
	planned := make(map[jobs.Stage]bool)
	for _, stage := range jobs.Stages() {
		switch stage {
		case jobs.StageEnhance:
			planned[stage] = job.Payload.Enhance
		case jobs.StageThumbnails:
			planned[stage] = job.Payload.Thumbnails
		case jobs.StageSubtitles:
			planned[stage] = job.Payload.Subtitles
		default:
			planned[stage] = true
		}
	}

	resp := jobProgressResponse{CompletedStages: []jobs.Stage{}}
	for _, on := range planned {
		if on {
			resp.TotalStages++
		}
	}
	if cp != nil {
		for _, stage := range cp.CompletedStages() {
			if planned[stage] {
				resp.CompletedStages = append(resp.CompletedStages, stage)
			}
		}
	}

	switch {
	case job.Status == jobs.StatusCompleted:
		resp.Percent = 100
	case resp.TotalStages > 0:
		pct := float64(len(resp.CompletedStages)) / float64(resp.TotalStages) * 100
		resp.Percent = math.Round(pct*10) / 10
	}
	return resp
}

// handleJobRetry queues a failed job's script again with the same options.
// Completed stages are picked up from its checkpoint.
func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != jobs.StatusFailed {
		writeError(w, http.StatusConflict, "only failed jobs can be retried")
		return
	}

	p := job.Payload
	retried, created, err := s.scripts.EnqueueScript(service.SourceManual, service.ScriptRequest{
		Path:       p.ScriptPath,
		Platforms:  p.Platforms,
		Enhance:    &p.Enhance,
		Thumbnails: &p.Thumbnails,
		Subtitles:  &p.Subtitles,
		MusicPath:  p.MusicPath,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"created": created,
		"job":     retried,
	})
}
