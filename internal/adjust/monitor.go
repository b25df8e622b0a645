// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package adjust

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/monitoring"
)

type Monitor struct {
	// Finished adjustments, by result ("ok" or the error kind).
	Adjustments *prometheus.CounterVec
	// Time spent in each phase of an adjustment.
	PhaseTimer *prometheus.HistogramVec
	// Number of execution status polls.
	Polls prometheus.Counter
	// Last reported progress in percent.
	Progress prometheus.Gauge
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adjust_adjustments_total",
		Help: "Number of finished adjustments",
	}, []string{"result"})
	phaseTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adjust_phase_duration_seconds",
		Help:    "Duration of the phases of an adjustment",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"phase"})
	polls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adjust_execution_polls_total",
		Help: "Number of execution status polls",
	})
	progress := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adjust_progress_percent",
		Help: "Last reported progress of the adjustment",
	})
	registry.MustRegister(
		adjustments,
		phaseTimer,
		polls,
		progress,
	)
	return Monitor{
		Adjustments: adjustments,
		PhaseTimer:  phaseTimer,
		Polls:       polls,
		Progress:    progress,
	}
}
