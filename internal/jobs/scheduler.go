// Package jobs runs the periodic background work of the server: the
// scheduled report poll and the daily exchange-rate refresh.
//
// A Scheduler is owned by main. Start it once the store is ready and Stop it
// during shutdown; Stop cancels the context handed to running jobs and waits
// for them to return.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"afms/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Func is one unit of periodic work. Its error is logged and counted; it
// never stops the schedule.
type Func func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	names   map[cron.EntryID]string
}

// New builds a scheduler evaluating cron specs in UTC. Each run is bounded by
// timeout when it is positive. m may be nil.
func New(log *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		metrics: m,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		names:   make(map[cron.EntryID]string),
	}
}

// Add registers fn under name on a five-field cron spec or a descriptor such
// as @daily.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	s.log.Info("job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// RunNow executes the named job synchronously, outside the cron schedule.
func (s *Scheduler) RunNow(name string, fn Func) {
	s.run(name, fn)
}

func (s *Scheduler) run(name string, fn Func) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	s.metrics.JobOutcome(name, err)
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	s.log.Debug("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.names)))
}

// Stop halts new runs, cancels running ones and waits for them, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cancel()
		return nil
	}
	s.started = false

	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// Next reports the next activation of every registered job.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.names))
	for _, e := range s.cron.Entries() {
		out[s.names[e.ID]] = e.Next
	}
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
