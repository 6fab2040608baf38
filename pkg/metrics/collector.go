// Package metrics exports playback metrics to Prometheus.
//
// A Collector is both a set of domain.LifecycleHooks (per-action and retry
// events) and a lifecycle participant (session start and finish).
package metrics

import (
	"context"
	"errors"

	"github.com/aretw0/marionette/pkg/domain"
	"github.com/aretw0/marionette/pkg/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "marionette"

// Collector records playback metrics.
type Collector struct {
	actions    *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	contexts   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	active     prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Action turns by type and outcome.",
		}, []string{"type", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of action turns, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"type"}),
		contexts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "contexts_entered_total",
			Help:      "Committed context matches.",
		}, []string{"context"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Failed retriable attempts; gave_up marks the final one.",
		}, []string{"gave_up"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by result.",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently playing.",
		}),
	}
	var err error
	if c.actions, err = register(reg, c.actions); err != nil {
		return nil, err
	}
	if c.durations, err = register(reg, c.durations); err != nil {
		return nil, err
	}
	if c.contexts, err = register(reg, c.contexts); err != nil {
		return nil, err
	}
	if c.retries, err = register(reg, c.retries); err != nil {
		return nil, err
	}
	if c.sessions, err = register(reg, c.sessions); err != nil {
		return nil, err
	}
	if c.active, err = register(reg, c.active); err != nil {
		return nil, err
	}
	return c, nil
}

// register reuses an identical collector registered earlier, so that several
// engines in one process share the same series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Hooks returns the playback callbacks feeding the collector.
func (c *Collector) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnActionResult: func(_ context.Context, e *domain.ActionEvent) {
			c.actions.WithLabelValues(e.ActionType, string(e.Outcome)).Inc()
			c.durations.WithLabelValues(e.ActionType).Observe(e.Duration.Seconds())
		},
		OnContextEnter: func(_ context.Context, e *domain.ContextEvent) {
			c.contexts.WithLabelValues(e.ContextID).Inc()
		},
		OnRetry: func(_ context.Context, e *domain.RetryEvent) {
			if e.GaveUp {
				c.retries.WithLabelValues("true").Inc()
				return
			}
			c.retries.WithLabelValues("false").Inc()
		},
	}
}

func (c *Collector) OnSessionStart(ctx context.Context, s *lifecycle.Session) error {
	c.active.Inc()
	return nil
}

func (c *Collector) OnSessionFinish(ctx context.Context, s *lifecycle.Session, runErr error) error {
	c.active.Dec()
	c.sessions.WithLabelValues(Result(runErr)).Inc()
	return nil
}

// Result classifies a run outcome: "success", "script_error" or the error code.
func Result(runErr error) string {
	switch {
	case runErr == nil:
		return "success"
	case domain.IsScriptError(runErr):
		return "script_error"
	case domain.CodeOf(runErr) != "":
		return domain.CodeOf(runErr)
	default:
		return "error"
	}
}

var (
	_ lifecycle.SessionStarter  = (*Collector)(nil)
	_ lifecycle.SessionFinisher = (*Collector)(nil)
)
