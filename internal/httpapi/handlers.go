package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/service"
)

type enqueueJobRequest struct {
	Source string `json:"source"`
	service.ScriptRequest
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.queue.List()
		if status := r.URL.Query().Get("status"); status != "" {
			list = filterJobs(list, jobs.Status(status))
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req enqueueJobRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			writeError(w, http.StatusBadRequest, "script_path is required")
			return
		}
		if req.Source == "" {
			req.Source = service.SourceManual
		}

		job, created, err := s.scripts.EnqueueScript(req.Source, req.ScriptRequest)
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
			"job":     job,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func filterJobs(list []*jobs.Job, status jobs.Status) []*jobs.Job {
	ret := make([]*jobs.Job, 0, len(list))
	for _, job := range list {
		if job.Status == status {
			ret = append(ret, job)
		}
	}
	return ret
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	queued, err := s.scripts.Scan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": queued,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getSettings(w)
	case http.MethodPut:
		s.putSettings(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getSettings(w http.ResponseWriter) {
	current, err := s.settings.GetRuntimeSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, current.Masked())
}

// putSettings saves the edited settings, then hands them to the applier so
// the schedule and the pipeline pick them up.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var next config.RuntimeSettings
	if !decodeBody(w, r, &next) {
		return
	}
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.settings.UpdateRuntimeSettings(next)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.apply != nil {
		if err := s.apply(saved); err != nil {
			writeError(w, http.StatusInternalServerError, "settings saved but not applied: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, saved.Masked())
}

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into v and answers 400 when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
