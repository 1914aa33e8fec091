// Package telemetry periodically reports dispatcher health to an external
// collector. It is the ambient observability layer SPEC_FULL's application
// wiring adds around the otherwise metrics-free Scheduler core, using
// resty.dev/v3 — promoted here from the teacher's indirect HTTP client
// dependency to direct use, since the teacher's own HTTP surface
// (modules/http_client) is built on net/http directly rather than resty.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"resty.dev/v3"
)

// Snapshot is the payload POSTed to the collector on every tick.
type Snapshot struct {
	QueueDepth    int `json:"queue_depth"`
	LiveNodeCount int `json:"live_node_count"`
}

// Source supplies the values telemetry reports each tick. The Scheduler
// implements it directly.
type Source interface {
	QueueDepth() int
	LiveNodeCount() int
}

// Exporter periodically POSTs a Source's Snapshot to a collector URL.
type Exporter struct {
	client   *resty.Client
	url      string
	interval time.Duration
	source   Source
	log      *slog.Logger
}

// Option configures an Exporter at construction.
type Option func(*Exporter)

// WithInterval overrides the default 10s report interval.
func WithInterval(d time.Duration) Option {
	return func(e *Exporter) { e.interval = d }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.log = l }
}

// WithHTTPClient overrides the default resty client, e.g. for tests that
// need to point at an httptest.Server with a short timeout.
func WithHTTPClient(c *resty.Client) Option {
	return func(e *Exporter) { e.client = c }
}

// New constructs an Exporter that reports source's snapshots to url.
func New(url string, source Source, opts ...Option) *Exporter {
	e := &Exporter{
		client:   resty.New(),
		url:      url,
		interval: 10 * time.Second,
		source:   source,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run blocks, POSTing a Snapshot every interval until ctx is canceled. It
// returns nil on cancellation, matching the app layer's errgroup convention
// where a clean shutdown is not itself an error.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.report(ctx)
		}
	}
}

func (e *Exporter) report(ctx context.Context) {
	snap := Snapshot{
		QueueDepth:    e.source.QueueDepth(),
		LiveNodeCount: e.source.LiveNodeCount(),
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(snap).
		Post(e.url)
	if err != nil {
		e.log.Warn("telemetry: failed to report snapshot", "error", err)
		return
	}
	if resp.IsError() {
		e.log.Warn("telemetry: collector rejected snapshot", "status", resp.StatusCode())
	}
}
