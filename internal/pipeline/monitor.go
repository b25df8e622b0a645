// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/monitoring"
)

type Monitor struct {
	// Duration of requests against the pipeline service, by operation.
	RequestTimer *prometheus.HistogramVec
	// Responses with an unexpected status, by operation.
	RequestErrors *prometheus.CounterVec
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	requestTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adjust_pipeline_request_duration_seconds",
		Help:    "Duration of requests against the pipeline service",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	requestErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adjust_pipeline_request_errors_total",
		Help: "Number of failed requests against the pipeline service",
	}, []string{"operation"})
	registry.MustRegister(
		requestTimer,
		requestErrors,
	)
	return Monitor{
		RequestTimer:  requestTimer,
		RequestErrors: requestErrors,
	}
}
