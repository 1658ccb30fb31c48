package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/faceless-pipeline/internal/config"
	"github.com/MimeLyc/faceless-pipeline/internal/jobs"
	"github.com/MimeLyc/faceless-pipeline/internal/pipeline"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
	"github.com/MimeLyc/faceless-pipeline/pkg/file"
	"github.com/MimeLyc/faceless-pipeline/pkg/icron"
	"github.com/MimeLyc/faceless-pipeline/pkg/log"
)

const (
	// ScriptSuffix marks the files the watcher picks up.
	ScriptSuffix = "_script.json"

	SourceCron   = "cron"
	SourceManual = "manual"

	initialLookback = 7 * 24 * time.Hour
)

// Runner takes one script through the pipeline; *pipeline.Orchestrator fits.
type Runner interface {
	Run(ctx context.Context, s *script.Script, platforms []script.Platform, opts pipeline.Options) *pipeline.JobResult
}

// RunnerFactory builds the pipeline for a configuration. It is called again
// after the runtime settings change.
type RunnerFactory func(cfg config.Config) (Runner, error)

// Service watches the scripts directory on a cron schedule, queues new
// scripts and executes queued jobs.
type Service struct {
	queue   *jobs.Queue
	factory RunnerFactory
	cron    *cron.Cron
	now     func() time.Time

	mu          sync.Mutex
	cfg         config.Config
	runner      Runner
	scanCtx     context.Context
	entryID     cron.EntryID
	scheduled   bool
	lastTrigger time.Time

	scans singleflight.Group
	runs  singleflight.Group
}

func New(cfg config.Config, queue *jobs.Queue, factory RunnerFactory, engine *cron.Cron) *Service {
	return &Service{
		queue:   queue,
		factory: factory,
		cron:    engine,
		now:     time.Now,
		cfg:     cfg,
	}
}

func (s *Service) config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Schedule registers the directory scan with the cron engine. The engine is
// started by the caller.
func (s *Service) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanCtx = ctx
	return s.scheduleLocked(s.cfg.Service.CronExpr)
}

func (s *Service) scheduleLocked(expr string) error {
	schedule, err := icron.Parse(expr)
	if err != nil {
		return err
	}
	if s.scheduled {
		s.cron.Remove(s.entryID)
	}
	s.entryID = s.cron.Schedule(schedule, cron.FuncJob(s.onTick))
	s.scheduled = true
	log.Info("Watching %s on schedule %q", s.cfg.Service.ScriptsDir, expr)
	return nil
}

func (s *Service) onTick() {
	s.mu.Lock()
	ctx := s.scanCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	queued, err := s.Scan(ctx)
	if err != nil {
		log.Error("Failed to scan scripts: %v", err)
		return
	}
	log.Info("Scan queued %d new script(s)", len(queued))
}

// ApplyRuntimeSettings swaps in edited settings: the cron entry is replaced
// when the expression changed and the pipeline is rebuilt for the next job.
func (s *Service) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	config.WithRuntimeSettings(next)(&cfg)
	if s.scheduled && cfg.Service.CronExpr != s.cfg.Service.CronExpr {
		prev := s.cfg
		s.cfg = cfg
		if err := s.scheduleLocked(cfg.Service.CronExpr); err != nil {
			s.cfg = prev
			return err
		}
	}
	s.cfg = cfg
	s.runner = nil
	return nil
}

// Scan queues every script file under the scripts directory modified since
// the previous scan. Concurrent calls share one scan.
func (s *Service) Scan(ctx context.Context) ([]*jobs.Job, error) {
	v, err, _ := s.scans.Do("scan", func() (any, error) {
		return s.scan(ctx)
	})
	queued, _ := v.([]*jobs.Job)
	return queued, err
}

func (s *Service) scan(ctx context.Context) ([]*jobs.Job, error) {
	cfg := s.config()
	dir := cfg.Service.ScriptsDir
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("scripts directory %s: %w", dir, err)
	}

	now := s.now()
	since, err := s.startTime(cfg.Service.CronExpr, now)
	if err != nil {
		return nil, err
	}
	log.Debug("Searching %s for scripts modified after %v", dir, since)

	paths, err := file.FindRecentAfter(dir, since, ScriptSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent scripts: %w", err)
	}
	sort.Strings(paths)

	queued := make([]*jobs.Job, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return queued, err
		}
		job, created, err := s.EnqueueScript(SourceCron, ScriptRequest{Path: path})
		if err != nil {
			log.Warn("Skipping %s: %v", path, err)
			continue
		}
		if created {
			queued = append(queued, job)
		}
	}

	s.mu.Lock()
	s.lastTrigger = now
	s.mu.Unlock()
	return queued, nil
}

// startTime is the lower modification bound of a scan. The first scan looks
// back to the earlier of the previous cron activation and a week ago.
func (s *Service) startTime(expr string, now time.Time) (time.Time, error) {
	s.mu.Lock()
	last := s.lastTrigger
	s.mu.Unlock()
	if !last.IsZero() {
		return last, nil
	}

	info, err := icron.GetTriggerInfo(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get cron schedule: %w", err)
	}
	start := now.Add(-initialLookback)
	if !info.Last.IsZero() && info.Last.Before(start) {
		start = info.Last
	}
	return start, nil
}
