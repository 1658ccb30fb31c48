package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

// ScriptRequest asks for one script to be produced. Nil flags and empty
// platforms fall back to the configured defaults.
type ScriptRequest struct {
	Path       string   `json:"script_path"`
	Platforms  []string `json:"platforms,omitempty"`
	Enhance    *bool    `json:"enhance,omitempty"`
	Thumbnails *bool    `json:"thumbnails,omitempty"`
	Subtitles  *bool    `json:"subtitles,omitempty"`
	MusicPath  string   `json:"music_path,omitempty"`
}

// EnqueueScript validates the script at req.Path and queues it. Jobs are
// deduplicated by script identity, so the cron watcher and manual requests
// never queue the same script twice.
func (s *Service) EnqueueScript(source string, req ScriptRequest) (*jobs.Job, bool, error) {
	sc, err := script.Load(req.Path)
	if err != nil {
		return nil, false, err
	}
	payload, err := s.payload(sc, req)
	if err != nil {
		return nil, false, err
	}

	job, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Source:    source,
		DedupeKey: sc.Key(),
		Payload:   payload,
	})
	if created {
		log.Info("Queued %s job %s for %q (%s)", source, job.ID, sc.Title, sc.SourcePath)
	}
	return job, created, nil
}

func (s *Service) payload(sc *script.Script, req ScriptRequest) (jobs.JobPayload, error) {
	cfg := s.config().Pipeline

	platforms := req.Platforms
	if len(platforms) == 0 {
		parsed, err := script.ParsePlatforms(cfg.Platforms)
		if err != nil {
			return jobs.JobPayload{}, err
		}
		for _, p := range parsed {
			platforms = append(platforms, string(p))
		}
	} else if _, err := parsePlatforms(platforms); err != nil {
		return jobs.JobPayload{}, err
	}

	music := req.MusicPath
	if music == "" {
		music = cfg.MusicPath
	}
	return jobs.JobPayload{
		ScriptPath: sc.SourcePath,
		Platforms:  platforms,
		Enhance:    boolOr(req.Enhance, cfg.Enhance),
		Thumbnails: boolOr(req.Thumbnails, cfg.Thumbnails),
		Subtitles:  boolOr(req.Subtitles, cfg.Subtitles),
		MusicPath:  music,
	}, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func parsePlatforms(names []string) ([]script.Platform, error) {
	ret := make([]script.Platform, 0, len(names))
	for _, name := range names {
		p, err := script.ParsePlatform(name)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	if len(ret) == 0 {
		return nil, errors.New("no platforms requested")
	}
	return ret, nil
}

func (s *Service) currentRunner() (Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		return s.runner, nil
	}
	if s.factory == nil {
		return nil, errors.New("no pipeline configured")
	}
	r, err := s.factory(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	s.runner = r
	return r, nil
}

// Execute is the queue executor: it runs the job's script through the
// pipeline and mirrors the run's progress onto the job status. One run per
// script is in flight at a time.
func (s *Service) Execute(ctx context.Context, job *jobs.Job) (*jobs.JobSummary, error) {
	sc, err := script.Load(job.Payload.ScriptPath)
	if err != nil {
		return nil, err
	}
	platforms, err := parsePlatforms(job.Payload.Platforms)
	if err != nil {
		return nil, err
	}
	runner, err := s.currentRunner()
	if err != nil {
		return nil, err
	}

	logger := log.With(map[string]any{"queue_job": job.ID, "script": sc.Key()})
	opts := pipeline.Options{
		Enhance:    job.Payload.Enhance,
		Thumbnails: job.Payload.Thumbnails,
		Subtitles:  job.Payload.Subtitles,
		MusicPath:  job.Payload.MusicPath,
		OnStatus: func(status jobs.Status) {
			// Terminal states are set by the queue worker.
			if status.IsTerminal() {
				return
			}
			if err := s.queue.UpdateStatus(job.ID, status); err != nil {
				logger.Debug("Status %s not recorded: %v", status, err)
			}
		},
	}

	v, _, shared := s.runs.Do(sc.Key(), func() (any, error) {
		return runner.Run(ctx, sc, platforms, opts), nil
	})
	if shared {
		logger.Info("Joined a run already in progress for %q", sc.Title)
	}
	res, _ := v.(*pipeline.JobResult)
	if res == nil {
		return nil, errors.New("pipeline returned no result")
	}

	summary := summarize(res)
	if !res.Success() {
		if res.Failure != nil {
			return summary, res.Failure
		}
		return summary, fmt.Errorf("pipeline ended with status %s", res.Status)
	}
	logger.Info("Finished %q in %.1fs with %d error(s)", sc.Title, res.Duration.Seconds(), len(res.Errors))
	return summary, nil
}

func summarize(res *pipeline.JobResult) *jobs.JobSummary {
	summary := &jobs.JobSummary{
		CheckpointJobID: res.JobID,
		Errors:          res.ErrorStrings(),
		DurationSeconds: res.Duration.Seconds(),
	}
	if len(res.VideoPaths) > 0 {
		summary.VideoPaths = make(map[string]string, len(res.VideoPaths))
		for p, path := range res.VideoPaths {
			summary.VideoPaths[string(p)] = path
		}
	}
	return summary
}

// checkpointSource is implemented by runners that persist progress.
type checkpointSource interface {
	CheckpointStore(n script.Niche) (checkpoint.Store, error)
}

// Checkpoint loads the recorded progress of the script at scriptPath.
// checkpoint.ErrNotFound means the script has never run.
func (s *Service) Checkpoint(ctx context.Context, scriptPath string) (*checkpoint.Checkpoint, error) {
	sc, err := script.Load(scriptPath)
	if err != nil {
		return nil, err
	}
	runner, err := s.currentRunner()
	if err != nil {
		return nil, err
	}
	src, ok := runner.(checkpointSource)
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	store, err := src.CheckpointStore(sc.Niche)
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, sc.Key())
}
