// Package metrics exposes Prometheus instrumentation for optimization runs.
// All Collector methods are nil-safe so pipelines can run unmetered.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the run-level metric families.
type Collector struct {
	iterations        *prometheus.CounterVec
	solverFailures    prometheus.Counter
	solverRetries     prometheus.Counter
	currentFOM        prometheus.Gauge
	gradientNorm      prometheus.Gauge
	stepSize          prometheus.Gauge
	iterationDuration prometheus.Histogram
}

// NewCollector builds the metric families and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "iterations_total",
			Help:      "Optimization trials by outcome (accepted, rejected, failed).",
		}, []string{"result"}),
		solverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "solver_failures_total",
			Help:      "Simulation jobs that failed after exhausting retries.",
		}),
		solverRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prism",
			Name:      "solver_retries_total",
			Help:      "Simulation attempts retried after a transient failure.",
		}),
		currentFOM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prism",
			Name:      "current_fom",
			Help:      "Figure of merit at the last accepted parameters.",
		}),
		gradientNorm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prism",
			Name:      "gradient_norm",
			Help:      "Euclidean gradient norm at the last accepted parameters.",
		}),
		stepSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prism",
			Name:      "step_size",
			Help:      "Current optimizer step size.",
		}),
		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prism",
			Name:      "iteration_duration_seconds",
			Help:      "Wall time per optimization trial, simulations included.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.iterations,
			c.solverFailures,
			c.solverRetries,
			c.currentFOM,
			c.gradientNorm,
			c.stepSize,
			c.iterationDuration,
		)
	}
	return c
}

// ObserveTrial records one finished trial.
func (c *Collector) ObserveTrial(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.iterations.WithLabelValues(result).Inc()
	c.iterationDuration.Observe(elapsed.Seconds())
}

// ObserveAccepted updates the gauges after an accepted trial.
func (c *Collector) ObserveAccepted(fomValue, gradNorm, stepSize float64) {
	if c == nil {
		return
	}
	c.currentFOM.Set(fomValue)
	c.gradientNorm.Set(gradNorm)
	c.stepSize.Set(stepSize)
}

// ObserveStepSize tracks step size changes from rejected trials.
func (c *Collector) ObserveStepSize(stepSize float64) {
	if c == nil {
		return
	}
	c.stepSize.Set(stepSize)
}

// ObserveSolverFailure counts a simulation that failed for good.
func (c *Collector) ObserveSolverFailure() {
	if c == nil {
		return
	}
	c.solverFailures.Inc()
}

// ObserveSolverRetry counts a transient failure that will be retried.
func (c *Collector) ObserveSolverRetry() {
	if c == nil {
		return
	}
	c.solverRetries.Inc()
}
