package telemetry

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
)

const (
	metricStageDuration = "tick_stage_duration_ms"
	metricTickDuration  = "tick_duration_ms"
	metricMigrations    = "entity_migrations"
	metricDetached      = "entity_detached"
	metricRemovals      = "entity_removals"
	metricTickOverrun   = "tick_overrun"
)

// Metrics emits tick metrics to a statsd agent. The zero-configured Metrics drops everything.
type Metrics struct {
	client statsd.ClientInterface
}

func newMetrics(opts StatsdOptions) (*Metrics, error) {
	if opts.Address == "" {
		return NopMetrics(), nil
	}

	statsdOpts := []statsd.Option{statsd.WithNamespace(opts.Namespace)}
	if len(opts.Tags) > 0 {
		statsdOpts = append(statsdOpts, statsd.WithTags(opts.Tags))
	}
	client, err := statsd.New(opts.Address, statsdOpts...)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create statsd client for %s", opts.Address)
	}
	return &Metrics{client: client}, nil
}

// NewMetrics wraps an existing statsd client.
func NewMetrics(client statsd.ClientInterface) *Metrics {
	return &Metrics{client: client}
}

func NopMetrics() *Metrics {
	return &Metrics{client: &statsd.NoOpClient{}}
}

// StageDuration records how long one tick stage took. Emission errors are dropped; the client
// buffers and retries on its own.
func (m *Metrics) StageDuration(stage string, d time.Duration) {
	_ = m.client.Timing(metricStageDuration, d, []string{"stage:" + stage}, 1)
}

func (m *Metrics) TickDuration(d time.Duration) {
	_ = m.client.Timing(metricTickDuration, d, nil, 1)
}

func (m *Metrics) TickOverrun() {
	_ = m.client.Incr(metricTickOverrun, nil, 1)
}

// Finalize records the entity counts of one finalize pass.
func (m *Metrics) Finalize(migrated, detached, removed int) {
	if migrated > 0 {
		_ = m.client.Count(metricMigrations, int64(migrated), nil, 1)
	}
	if detached > 0 {
		_ = m.client.Count(metricDetached, int64(detached), nil, 1)
	}
	if removed > 0 {
		_ = m.client.Count(metricRemovals, int64(removed), nil, 1)
	}
}

func (m *Metrics) Close() error {
	return eris.Wrap(m.client.Close(), "failed to close statsd client")
}
