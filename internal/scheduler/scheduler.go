// Package scheduler triggers the monthly-close recalculation on a cron
// schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
)

// RunFunc recalculates reserves for one evaluation period.
type RunFunc func(ctx context.Context, asOf model.Period) error

// Scheduler fires RunFunc for the closing period each time the cron
// expression matches.
type Scheduler struct {
	cron   *cron.Cron
	cfg    config.ScheduleConfig
	grain  model.Grain
	loc    *time.Location
	run    RunFunc
	now    func() time.Time
	entry  cron.EntryID
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses the schedule and returns a stopped Scheduler.
func New(cfg config.ScheduleConfig, grain model.Grain, run RunFunc) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load timezone %s", tz)
	}
	if cfg.CloseLag < 0 {
		return nil, eris.Errorf("scheduler: close lag must be >= 0, got %d", cfg.CloseLag)
	}

	logger := cronLogger{log: zap.L().Sugar().With("component", "scheduler")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cfg:   cfg,
		grain: grain,
		loc:   loc,
		run:   run,
		now:   time.Now,
	}

	s.entry, err = s.cron.AddFunc(cfg.Cron, s.fire)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse cron %q", cfg.Cron)
	}
	return s, nil
}

// AsOfFor returns the evaluation period a trigger at t closes: the period
// containing t in the schedule's timezone, less the close lag.
func (s *Scheduler) AsOfFor(t time.Time) model.Period {
	return model.PeriodOf(s.grain, t.In(s.loc)).Add(-s.cfg.CloseLag)
}

// Next returns the next trigger time, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Start begins firing in the background. Runs receive a context derived from
// ctx, so cancelling ctx aborts an in-flight recalculation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	zap.L().Info("scheduler: started",
		zap.String("cron", s.cfg.Cron),
		zap.String("timezone", s.loc.String()),
		zap.Time("next", s.Next()),
	)
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	zap.L().Info("scheduler: stopped")
}

// RunNow triggers the recalculation for the current closing period.
func (s *Scheduler) RunNow(ctx context.Context) error {
	asOf := s.AsOfFor(s.now())
	return s.runFor(ctx, asOf)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.runFor(ctx, s.AsOfFor(s.now())); err != nil {
		zap.L().Error("scheduler: scheduled recalculation failed", zap.Error(err))
	}
}

func (s *Scheduler) runFor(ctx context.Context, asOf model.Period) error {
	log := zap.L().With(zap.String("component", "scheduler"), zap.String("as_of", asOf.String()))
	log.Info("scheduler: triggering recalculation")

	start := time.Now()
	if err := s.run(ctx, asOf); err != nil {
		return eris.Wrapf(err, "scheduler: recalculate %s", asOf)
	}
	log.Info("scheduler: recalculation complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
