// Package scheduler triggers the daily reconciliation on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/and161185/streakkeeper/internal/model"
)

// Job is the unit of work run on schedule.
type Job interface {
	Run(ctx context.Context) (model.ReconcileReport, error)
}

// Scheduler runs a Job on a standard 5-field cron spec evaluated in UTC.
// A tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New parses spec and registers job. timeout bounds a single run; zero means none.
func New(spec string, job Job, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New(cron.WithLocation(time.UTC))
	s := &Scheduler{cron: c, job: job, timeout: timeout, log: log}
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing. Runs use a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("scheduler started", zap.Time("next", s.Next()))
}

// Stop halts firing, cancels an in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Next reports when the job fires next.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("reconcile already running")

// RunNow runs the job immediately on ctx unless a run is already going.
func (s *Scheduler) RunNow(ctx context.Context) (model.ReconcileReport, error) {
	if !s.acquire() {
		return model.ReconcileReport{}, ErrBusy
	}
	defer s.release()
	return s.run(ctx)
}

// tick is the cron callback.
func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	if !s.acquire() {
		s.log.Warn("reconcile tick skipped: previous run still going")
		return
	}
	defer s.release()
	if _, err := s.run(ctx); err != nil {
		s.log.Error("scheduled reconcile", zap.Error(err))
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) (model.ReconcileReport, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.job.Run(ctx)
}
