// Package cron persists scheduled jobs and fires isolated headless agent
// turns. One scheduler goroutine per job; fires never overlap per job.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ironclaw/internal/store"
)

// Delivery tells the fired turn where its result must go.
type Delivery struct {
	Channel string `json:"channel"` // "telegram" or "session"
	To      string `json:"to"`
}

// Job is one persisted schedule.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Schedule  string     `json:"schedule"`
	Message   string     `json:"message"`
	AgentID   string     `json:"agentId,omitempty"`
	Delivery  Delivery   `json:"delivery"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"createdAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
}

// Title derives the display title for the job's session.
func (j Job) Title() string {
	if j.Name != "" {
		return j.Name
	}
	if len(j.Message) > 40 {
		return j.Message[:40]
	}
	return j.Message
}

// FireHandler runs one headless turn for a due job. The service has already
// advanced lastRunAt when it is called.
type FireHandler func(job Job)

// AddOptions carry the optional fields of Add.
type AddOptions struct {
	Name     string
	AgentID  string
	Delivery Delivery
}

// Service owns the job store and per-job schedulers.
type Service struct {
	jobs    *store.KeyedStore[Job]
	handler FireHandler
	gron    *gronx.Gronx

	mu      sync.Mutex
	stops   map[string]context.CancelFunc
	baseCtx context.Context
}

func NewService(stateDir string, handler FireHandler) (*Service, error) {
	jobs, err := store.NewKeyedStore[Job](filepath.Join(stateDir, "cron.json"))
	if err != nil {
		return nil, fmt.Errorf("open cron store: %w", err)
	}
	return &Service{
		jobs:    jobs,
		handler: handler,
		gron:    gronx.New(),
		stops:   make(map[string]context.CancelFunc),
	}, nil
}

// Start launches schedulers for every enabled job and keeps them bound to
// ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	for _, job := range s.List() {
		if job.Enabled {
			s.startScheduler(job)
		}
	}
	slog.Info("cron service started", "jobs", len(s.List()))
}

// Add validates the expression, persists the job, and starts its scheduler.
func (s *Service) Add(schedule, message string, opts AddOptions) (Job, error) {
	if !s.gron.IsValid(schedule) {
		return Job{}, fmt.Errorf("invalid cron expression: %q", schedule)
	}
	if message == "" {
		return Job{}, fmt.Errorf("cron job message is empty")
	}

	job := Job{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		Schedule:  schedule,
		Message:   message,
		AgentID:   opts.AgentID,
		Delivery:  opts.Delivery,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.Put(job.ID, job); err != nil {
		return Job{}, err
	}

	s.startScheduler(job)
	slog.Info("cron job added", "job", job.ID, "schedule", schedule, "name", job.Name)
	return job, nil
}

// Get returns a job by id.
func (s *Service) Get(jobID string) (Job, bool) {
	return s.jobs.Get(jobID)
}

// List returns all jobs, oldest first.
func (s *Service) List() []Job {
	var out []Job
	for _, j := range s.jobs.All() {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Enable restarts a disabled job's scheduler.
func (s *Service) Enable(jobID string) error {
	ok, err := s.jobs.Update(jobID, func(j *Job) { j.Enabled = true })
	if err != nil || !ok {
		return err
	}
	job, _ := s.jobs.Get(jobID)
	s.startScheduler(job)
	return nil
}

// Disable stops the scheduler but keeps the job.
func (s *Service) Disable(jobID string) error {
	s.stopScheduler(jobID)
	_, err := s.jobs.Update(jobID, func(j *Job) { j.Enabled = false })
	return err
}

// Delete stops the scheduler first, then removes the job.
func (s *Service) Delete(jobID string) error {
	s.stopScheduler(jobID)
	return s.jobs.Delete(jobID)
}

// Fire runs a job immediately, advancing lastRunAt before the handler so a
// crash mid-run still counts the fire (at-most-once).
func (s *Service) Fire(jobID string) error {
	job, ok := s.jobs.Get(jobID)
	if !ok {
		return fmt.Errorf("cron job %s not found", jobID)
	}

	now := time.Now()
	if _, err := s.jobs.Update(jobID, func(j *Job) { j.LastRunAt = &now }); err != nil {
		return err
	}
	job.LastRunAt = &now

	if s.handler != nil {
		s.handler(job)
	}
	return nil
}

func (s *Service) startScheduler(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.stops[job.ID]; running {
		return
	}
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.stops[job.ID] = cancel

	go s.runScheduler(ctx, job.ID, job.Schedule)
}

func (s *Service) stopScheduler(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.stops[jobID]; ok {
		cancel()
		delete(s.stops, jobID)
	}
}

// runScheduler sleeps until each next tick and fires. Single-shot per
// fire: the next sleep is computed only after the handler returns.
func (s *Service) runScheduler(ctx context.Context, jobID, schedule string) {
	for {
		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		if err != nil {
			slog.Error("cron: next tick failed", "job", jobID, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		if err := s.Fire(jobID); err != nil {
			slog.Error("cron: fire failed", "job", jobID, "error", err)
			return
		}
	}
}
