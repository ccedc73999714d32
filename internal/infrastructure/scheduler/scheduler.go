package scheduler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
)

type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Job receives the tick time read from the scheduler's clock.
type Job func(ctx context.Context, now time.Time) error

// Scheduler drives periodic jobs off six-field cron specs. A job that is
// still running when its next slot fires is skipped, not queued.
type Scheduler struct {
	cron   *cron.Cron
	clock  clock.Clock
	logger Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(clk clock.Clock, logger Logger) *Scheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		clock:  clk,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) AddJob(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		now := s.clock.Now()
		if err := job(s.ctx, now); err != nil {
			s.logger.Errorw("job failed", "job", name, "error", err)
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context handed to running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

type cronLogger struct {
	l Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Infow(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
