// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package monitoring

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
)

// Registry collects the metrics of a single driver run.
type Registry struct {
	*prometheus.Registry
	config conf.MonitoringConfig
}

func NewRegistry(config conf.MonitoringConfig) *Registry {
	registry := &Registry{
		Registry: prometheus.NewRegistry(),
		config:   config,
	}
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Custom gather method that adds the configured labels to all metrics.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	families, err := r.Registry.Gather()
	if err != nil {
		return nil, err
	}
	for name, value := range r.config.Labels {
		for _, family := range families {
			for _, metric := range family.Metric {
				metric.Label = append(metric.Label, &dto.LabelPair{
					Name:  &name,
					Value: &value,
				})
			}
		}
	}
	return families, nil
}

// WriteTextfile dumps all gathered metrics into the configured textfile so
// that a node-exporter textfile collector can pick them up after the driver
// has exited. Nothing happens when no textfile is configured.
func (r *Registry) WriteTextfile() error {
	if r.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.config.Textfile, r); err != nil {
		return err
	}
	slog.Debug("monitoring: wrote metrics textfile", "path", r.config.Textfile)
	return nil
}
