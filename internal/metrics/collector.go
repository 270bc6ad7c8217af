// Package metrics exports proxy queue and wake-lock state to Prometheus.
//
// A nil *Collector is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Write paths for EventsWritten.
const (
	PathDirect  = "direct"
	PathPending = "pending"
)

// Drop reasons for EventsDropped.
const (
	DropQueueFull    = "queue_full"
	DropWriteTimeout = "write_timeout"
)

// Wake-lock transitions for WakeLockTransition.
const (
	WakeLockAcquire = "acquire"
	WakeLockRelease = "release"
	WakeLockTimeout = "timeout"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled" default:"true"`
	Namespace string `yaml:"namespace" default:"sensormux"`
	Subsystem string `yaml:"subsystem" default:"proxy"`
}

// Collector owns a private registry so several proxies can coexist in one
// process (tests in particular).
type Collector struct {
	registry *prometheus.Registry

	pendingEvents    prometheus.Gauge
	pendingHighWater prometheus.Gauge
	eventsWritten    *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	wakeLockRefs     prometheus.Gauge
	wakeLockEvents   *prometheus.CounterVec
	controlCalls     *prometheus.CounterVec
}

// NewCollector creates a collector. It returns nil without error when
// metrics are disabled.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		cfg = &Config{Enabled: true, Namespace: "sensormux", Subsystem: "proxy"}
	}
	if !cfg.Enabled {
		return nil, nil
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pending_events",
			Help:      "Events waiting in the pending write backlog.",
		}),
		pendingHighWater: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pending_events_high_water",
			Help:      "Most events ever observed in the pending write backlog.",
		}),
		eventsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "events_written_total",
			Help:      "Events written to the outward event queue.",
		}, []string{"path"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "events_dropped_total",
			Help:      "Events dropped before reaching the consumer.",
		}, []string{"reason"}),
		wakeLockRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "wakelock_refs",
			Help:      "Outstanding wake-up events holding the shared wake-lock.",
		}),
		wakeLockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "wakelock_transitions_total",
			Help:      "Shared wake-lock acquisitions, releases and timeouts.",
		}, []string{"transition"}),
		controlCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "control_calls_total",
			Help:      "Control calls by operation and result.",
		}, []string{"op", "result"}),
	}

	for _, col := range []prometheus.Collector{
		c.pendingEvents, c.pendingHighWater, c.eventsWritten, c.eventsDropped,
		c.wakeLockRefs, c.wakeLockEvents, c.controlCalls,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// Registry returns the collector's private registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *Collector) SetPendingEvents(n int) {
	if c == nil {
		return
	}
	c.pendingEvents.Set(float64(n))
}

func (c *Collector) SetPendingHighWater(n int) {
	if c == nil {
		return
	}
	c.pendingHighWater.Set(float64(n))
}

func (c *Collector) AddEventsWritten(path string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsWritten.WithLabelValues(path).Add(float64(n))
}

func (c *Collector) AddEventsDropped(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsDropped.WithLabelValues(reason).Add(float64(n))
}

func (c *Collector) SetWakeLockRefs(n int) {
	if c == nil {
		return
	}
	c.wakeLockRefs.Set(float64(n))
}

func (c *Collector) WakeLockTransition(transition string) {
	if c == nil {
		return
	}
	c.wakeLockEvents.WithLabelValues(transition).Inc()
}

// ControlCall counts one control call; result is the sensors.Result name.
func (c *Collector) ControlCall(op, result string) {
	if c == nil {
		return
	}
	c.controlCalls.WithLabelValues(op, result).Inc()
}
