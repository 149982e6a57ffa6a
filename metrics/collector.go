package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a Prometheus-backed Recorder.
type Collector struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
}

// NewCollector registers the pipeline collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer. Collectors already registered under the same
// names are reused, so several pipelines may share one registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Collector{
		runsTotal: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"},
		)),
		runDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)),
		stageDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Worker stage duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "outcome"},
		)),
		toolCalls: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool invocations by status",
			},
			[]string{"tool", "status"},
		)),
		modelCalls: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Total number of model requests by status",
			},
			[]string{"model", "status"},
		)),
	}
}

// RunFinished implements Recorder.
func (c *Collector) RunFinished(outcome string, d time.Duration) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// StageFinished implements Recorder.
func (c *Collector) StageFinished(stage, outcome string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ToolCalled implements Recorder.
func (c *Collector) ToolCalled(tool, status string) {
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

// ModelCalled implements Recorder.
func (c *Collector) ModelCalled(model, status string) {
	c.modelCalls.WithLabelValues(model, status).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
