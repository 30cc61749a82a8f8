// Package scheduler runs the periodic maintenance jobs with gocron.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusRunning   JobStatus = "running"
	StatusError     JobStatus = "error"
)

// JobInfo is the state of one job as shown to the admin.
type JobInfo struct {
	Name        string    `json:"name"`
	CronExpr    string    `json:"cron_expr"`
	NextRun     time.Time `json:"next_run"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Scheduler wraps a gocron scheduler with per-job status tracking.
type Scheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	infos     map[string]*JobInfo
	mu        sync.RWMutex
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(log zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		infos:     make(map[string]*JobInfo),
		log:       log.With().Str("component", "scheduler").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// AddCron registers job under name with a five field cron expression. A job
// never overlaps with itself; a run still in progress skips the next tick.
func (s *Scheduler) AddCron(name, cronExpr string, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job with name %s already exists", name)
	}

	wrapped := func() {
		s.setStatus(name, StatusRunning, "")
		defer func() {
			if r := recover(); r != nil {
				s.setStatus(name, StatusError, fmt.Sprintf("panic in job: %v", r))
				s.log.Error().Str("job", name).Interface("panic", r).Msg("job panicked")
			}
		}()

		started := time.Now()
		if err := job(s.ctx); err != nil {
			s.setStatus(name, StatusError, err.Error())
			s.log.Error().Err(err).Str("job", name).Dur("took", time.Since(started)).Msg("job failed")
			return
		}
		s.mu.Lock()
		if info, ok := s.infos[name]; ok {
			info.Status = StatusScheduled
			info.Error = ""
			info.LastSuccess = time.Now()
		}
		s.mu.Unlock()
		s.log.Info().Str("job", name).Dur("took", time.Since(started)).Msg("job finished")
	}

	j, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRuns(func(_ uuid.UUID, jobName string) {
				s.mu.Lock()
				defer s.mu.Unlock()
				if info, ok := s.infos[jobName]; ok {
					info.LastRun = time.Now()
				}
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, cronExpr, err)
	}

	s.jobs[name] = j
	s.infos[name] = &JobInfo{Name: name, CronExpr: cronExpr, Status: StatusScheduled}
	s.log.Info().Str("job", name).Str("cron", cronExpr).Msg("added cron job")
	return nil
}

// RunNow triggers a registered job immediately.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job with name %s does not exist", name)
	}
	return j.RunNow()
}

// Jobs returns the state of every job, sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.infos))
	for name, info := range s.infos {
		cp := *info
		if next, err := s.jobs[name].NextRun(); err == nil {
			cp.NextRun = next
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) Start() {
	s.log.Info().Int("jobs", len(s.jobs)).Msg("starting scheduler")
	s.scheduler.Start()
}

// Shutdown cancels running jobs' context and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.scheduler.Shutdown()
}

func (s *Scheduler) setStatus(name string, status JobStatus, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.infos[name]; ok {
		info.Status = status
		info.Error = msg
	}
}
