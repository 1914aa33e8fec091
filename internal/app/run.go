package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/tensorsched/internal/ctxlog"
	"github.com/vk/tensorsched/internal/telemetry"
)

// Run coordinates the application's ambient goroutines — the health check
// server and the telemetry exporter — under one errgroup.Group, mirroring
// the teacher's goroutine-per-concern shutdown style but with one
// coordinated errgroup instead of manual sync.WaitGroup bookkeeping. The
// Scheduler's own dispatcher goroutine is unaffected by this group's
// cancellation; it is stopped separately, after the group drains, via
// Scheduler.Close.
//
// Run blocks until ctx is canceled (or a component fails) and returns only
// after every ambient goroutine and the Scheduler have shut down.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.log)
	g, gCtx := errgroup.WithContext(ctx)

	if a.cfg.HealthcheckPort > 0 {
		g.Go(func() error { return a.runHealthcheckServer(gCtx) })
	}

	if a.cfg.TelemetryURL != "" {
		exp := telemetry.New(a.cfg.TelemetryURL, a.scheduler,
			telemetry.WithLogger(a.log),
			telemetry.WithInterval(a.cfg.TelemetryInterval),
		)
		g.Go(func() error { return exp.Run(gCtx) })
	}

	<-gCtx.Done()
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.scheduler.Close(shutdownCtx); err != nil {
		a.log.Error("app: scheduler shutdown failed", "error", err)
	}
	if c, ok := a.dm.(closer); ok {
		c.Close()
	}

	return runErr
}
