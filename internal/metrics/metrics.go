package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portctl",
			Subsystem: "directory",
			Name:      "lookups_total",
			Help:      "Number of port lookups by outcome (found, absent).",
		}, []string{"platform", "result"},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portctl",
			Subsystem: "directory",
			Name:      "kills_total",
			Help:      "Number of termination requests by mode and outcome.",
		}, []string{"platform", "mode", "result"},
	)
	listening = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "portctl",
			Subsystem: "directory",
			Name:      "listening_ports",
			Help:      "Listening (pid, port) pairs seen by the last scan.",
		}, []string{"platform"},
	)
	toolRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portctl",
			Subsystem: "exec",
			Name:      "tool_runs_total",
			Help:      "Native tool invocations by tool and result (ok, exit, error, timeout).",
		}, []string{"tool", "result"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portctl",
			Subsystem: "exec",
			Name:      "tool_duration_seconds",
			Help:      "Wall time spent waiting for native tools.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"tool"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{lookups, kills, listening, toolRuns, toolDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile writes the current state of g to path in the text exposition
// format, suitable for the node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLookup(platform string, found bool) {
	if regOK.Load() {
		result := "absent"
		if found {
			result = "found"
		}
		lookups.WithLabelValues(platform, result).Inc()
	}
}

func IncKill(platform string, forceful, ok bool) {
	if regOK.Load() {
		mode := "graceful"
		if forceful {
			mode = "forceful"
		}
		result := "failure"
		if ok {
			result = "success"
		}
		kills.WithLabelValues(platform, mode, result).Inc()
	}
}

func SetListening(platform string, n int) {
	if regOK.Load() {
		listening.WithLabelValues(platform).Set(float64(n))
	}
}

func ObserveTool(tool, result string, seconds float64) {
	if regOK.Load() {
		toolRuns.WithLabelValues(tool, result).Inc()
		toolDuration.WithLabelValues(tool).Observe(seconds)
	}
}
