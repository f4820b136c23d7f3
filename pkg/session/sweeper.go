package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/txn2/mcp-weather/pkg/metrics"
)

// DefaultSweepInterval is the sweep period when none is configured.
const DefaultSweepInterval = 60 * time.Minute

// Reaper is the manager entry point the sweeper drives.
type Reaper interface {
	ExpireAndReap(ctx context.Context) (int64, error)
}

// Sweeper periodically expires records and reaps orphaned handles. A tick
// that fires while the previous sweep is still running is skipped.
type Sweeper struct {
	reaper   Reaper
	interval time.Duration
	timeout  time.Duration
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Rounded down to whole seconds, minimum one.
	Interval time.Duration

	// Timeout bounds a single sweep. Defaults to the interval.
	Timeout time.Duration
}

// NewSweeper creates a sweeper for r. Call Start to begin ticking.
func NewSweeper(r Reaper, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}

	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		reaper:   r,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start schedules the sweep and starts the scheduler goroutine.
func (s *Sweeper) Start() {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}))
	s.cron.Start()
	slog.Info("session sweeper started", "interval", s.interval)
}

// Stop stops scheduling and waits for a running sweep to finish or for ctx
// to expire, whichever comes first.
func (s *Sweeper) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("stopping sweeper: %w", ctx.Err())
	}
}

// RunOnce performs a single sweep. Failures are logged and returned but
// never stop the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.reaper.ExpireAndReap(ctx)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		slog.Error("session sweep failed", slogKeyError, err)
		return n, err
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	slog.Debug("session sweep finished", "records_deleted", n, "duration", time.Since(start))
	return n, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{slogKeyError, err}, keysAndValues...)...)
}
