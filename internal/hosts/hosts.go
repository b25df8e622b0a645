// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package hosts reads the current fleet from a host registry.
package hosts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/pkg/keystone"
	"github.com/cobaltcore-dev/pipeline-adjust/pkg/monitoring"
	"github.com/cobaltcore-dev/pipeline-adjust/pkg/sso"
)

// Host is one member of the fleet. Two records describe the same host only
// if all fields are equal, so a replaced host with a reused address is
// still a different host.
type Host struct {
	ID      string
	Name    string
	Address string
	Port    int
	// Stable marker of when the record was created.
	CreateIndex uint64
}

func (h Host) String() string {
	return fmt.Sprintf("%s(%s@%s)", h.Name, h.ID, h.Address)
}

// Registry lists the hosts currently registered. Implementations are
// stateless, every call reads the registry again.
type Registry interface {
	List(ctx context.Context) ([]Host, error)
}

type Monitor struct {
	// Duration of registry reads, by registry kind.
	RequestTimer *prometheus.HistogramVec
	// Number of hosts seen in the last registry read, by registry kind.
	HostsGauge *prometheus.GaugeVec
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	requestTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adjust_registry_request_duration_seconds",
		Help:    "Duration of host registry requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"registry"})
	hostsGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adjust_registry_hosts",
		Help: "Number of hosts in the last registry read",
	}, []string{"registry"})
	registry.MustRegister(requestTimer, hostsGauge)
	return Monitor{RequestTimer: requestTimer, HostsGauge: hostsGauge}
}

func (m Monitor) timer(kind string) func() {
	if m.RequestTimer == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.RequestTimer.WithLabelValues(kind))
	return func() { timer.ObserveDuration() }
}

func (m Monitor) observe(kind string, hosts []Host) {
	if m.HostsGauge != nil {
		m.HostsGauge.WithLabelValues(kind).Set(float64(len(hosts)))
	}
}

// NewRegistry creates the registry described by the configuration.
func NewRegistry(mon Monitor, c conf.RegistryConfig) (Registry, error) {
	httpClient, err := sso.NewHTTPClient(c.SSO)
	if err != nil {
		return nil, err
	}
	if c.Nova != nil {
		k := keystone.NewKeystoneClientWithHTTPClient(c.Nova.Keystone, httpClient)
		return NewNovaRegistry(mon, k, *c.Nova), nil
	}
	return NewCatalogRegistry(mon, c.URL, httpClient), nil
}

// Ensure the client is never nil.
func clientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}
