// Package schedule runs recurring jobs (fetch, derive, build) on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled task.
type Job struct {
	Name string
	Spec string // standard five-field cron expression or a descriptor such as "@hourly"
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their schedules. Runs of all jobs are serialized through
// one lock, which callers may share with other triggers such as the store watcher.
type Scheduler struct {
	cron   *rcron.Cron
	lock   sync.Locker
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	names  map[rcron.EntryID]string
}

// zapLogger adapts zap to the cron logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l zapLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

// New returns a scheduler. lock may be nil when nothing else mutates the store.
func New(lock sync.Locker, logger *zap.Logger) *Scheduler {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := zapLogger{s: logger.Sugar()}
	return &Scheduler{
		cron: rcron.New(
			rcron.WithLogger(cl),
			rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl)),
		),
		lock:   lock,
		logger: logger,
		names:  make(map[rcron.EntryID]string),
	}
}

// Add registers job. It fails on an invalid spec.
func (s *Scheduler) Add(job Job) error {
	id, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Spec, job.Name, err)
	}
	s.names[id] = job.Name
	return nil
}

func (s *Scheduler) execute(job Job) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Info("job started", zap.String("job", job.Name))
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.logger.Info("job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}

// Start begins running jobs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	go func() {
		<-s.ctx.Done()
		s.cron.Stop()
	}()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// Next returns the next run time of every job, keyed by job name.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, e := range s.cron.Entries() {
		out[s.names[e.ID]] = e.Next
	}
	return out
}

// Validate reports whether spec is a valid schedule.
func Validate(spec string) error {
	_, err := rcron.ParseStandard(spec)
	return err
}
