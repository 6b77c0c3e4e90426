// Package refresh re-evaluates the previous-week boundary on a schedule so a
// long-running process notices when the clock crosses into a new week.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tartampluch/go-schedule/internal/config"
)

// Refresher is implemented by the schedule engine.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Worker runs Refresh on a cron schedule.
type Worker struct {
	target  Refresher
	spec    string
	timeout time.Duration
	cron    *cron.Cron
	log     *slog.Logger
}

// New builds a worker for spec, evaluated in loc. An invalid spec falls back
// to FallbackRefreshCron and is logged.
func New(spec string, loc *time.Location, target Refresher) *Worker {
	if loc == nil {
		loc = time.Local
	}
	log := slog.With(config.LogKeyComponent, config.CompRefresh)

	if _, err := cron.ParseStandard(spec); err != nil {
		log.Warn(config.ErrCronSpec, config.LogKeySpec, spec, config.LogKeyError, err)
		spec = config.FallbackRefreshCron
	}

	w := &Worker{
		target:  target,
		spec:    spec,
		timeout: config.ShutdownTimeout,
		log:     log,
	}
	w.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)
	return w
}

// Spec returns the schedule actually in use.
func (w *Worker) Spec() string {
	return w.spec
}

// Run schedules the job and blocks until ctx is done. Running ticks are
// allowed to finish before it returns.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.spec, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("%s: %w", config.ErrCronSpec, err)
	}
	w.cron.Start()
	w.log.Info(config.MsgRefreshStart, config.LogKeySpec, w.spec)

	<-ctx.Done()
	<-w.cron.Stop().Done()
	w.log.Info(config.MsgRefreshStop)
	return nil
}

// Tick runs one refresh bounded by the worker timeout.
func (w *Worker) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.target.Refresh(ctx); err != nil {
		w.log.Warn(config.MsgRefreshFailed, config.LogKeyError, err)
	}
}

// cronLogger routes cron's own diagnostics to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, config.LogKeyError, err)...)
}
