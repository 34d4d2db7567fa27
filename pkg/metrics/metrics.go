// Package metrics exposes prometheus collectors for pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run results used as label values.
const (
	ResultOK           = "ok"
	ResultCompileError = "compile_error"
	ResultLaunchError  = "launch_error"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs            *prometheus.CounterVec
	CompileDuration prometheus.Histogram
	Channels        prometheus.Counter
	Duplicators     prometheus.Counter
	Launches        *prometheus.CounterVec
	Running         prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpe_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"result"},
		),
		CompileDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vpe_compile_duration_seconds",
				Help:    "Graph compile duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		Channels: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vpe_channels_created_total",
				Help: "Total number of FIFOs created",
			},
		),
		Duplicators: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vpe_duplicators_total",
				Help: "Total number of duplicator processes planned",
			},
		),
		Launches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vpe_launches_total",
				Help: "Total number of process launches",
			},
			[]string{"result"},
		),
		Running: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vpe_processes_running",
				Help: "Number of pipeline processes currently running",
			},
		),
	}
}

// RecordRun counts a finished Run call.
func (m *Metrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
}

// RecordCompile observes one compile.
func (m *Metrics) RecordCompile(d time.Duration, newChannels, duplicators int) {
	if m == nil {
		return
	}
	m.CompileDuration.Observe(d.Seconds())
	m.Channels.Add(float64(newChannels))
	m.Duplicators.Add(float64(duplicators))
}

// RecordLaunch counts one launch attempt.
func (m *Metrics) RecordLaunch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Launches.WithLabelValues("error").Inc()
		return
	}
	m.Launches.WithLabelValues("ok").Inc()
}

// SetRunning records the number of live processes.
func (m *Metrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.Running.Set(float64(n))
}
