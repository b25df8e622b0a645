// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
)

func TestNewRegistry(t *testing.T) {
	config := conf.MonitoringConfig{
		Labels: map[string]string{
			"env": "test",
		},
	}
	registry := NewRegistry(config)

	if registry == nil {
		t.Fatalf("expected registry to be non-nil")
	}
	if registry.config.Labels["env"] != "test" {
		t.Fatalf("expected registry config label 'env' to be 'test', got %v", registry.config.Labels["env"])
	}
}

func TestRegistry_Gather(t *testing.T) {
	config := conf.MonitoringConfig{
		Labels: map[string]string{
			"env": "test",
		},
	}
	registry := NewRegistry(config)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})
	registry.MustRegister(counter)
	counter.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, family := range families {
		for _, metric := range family.Metric {
			found := false
			for _, label := range metric.Label {
				if *label.Name == "env" && *label.Value == "test" {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("expected label 'env' with value 'test' on %s", family.GetName())
			}
		}
	}
}

func TestRegistry_WriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adjust.prom")
	registry := NewRegistry(conf.MonitoringConfig{
		Labels:   map[string]string{"service": "adjust"},
		Textfile: path,
	})
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adjust_test_total",
		Help: "A test counter",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	if err := registry.WriteTextfile(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected textfile to exist, got %v", err)
	}
	if !strings.Contains(string(content), `adjust_test_total{service="adjust"} 3`) {
		t.Errorf("expected labeled counter in textfile, got:\n%s", content)
	}
}

func TestRegistry_WriteTextfileDisabled(t *testing.T) {
	registry := NewRegistry(conf.MonitoringConfig{})
	if err := registry.WriteTextfile(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
