// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package hosts

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/pkg/keystone"
)

// Hypervisor as returned by the nova API.
type hypervisor struct {
	// UUID since microversion 2.53, a replaced hypervisor gets a new one.
	ID       string `json:"id"`
	Hostname string `json:"hypervisor_hostname"`
	HostIP   string `json:"host_ip"`
	Status   string `json:"status"`
	State    string `json:"state"`
	Type     string `json:"hypervisor_type"`
	Service  struct {
		Host string `json:"host"`
	} `json:"service"`
}

type novaRegistry struct {
	mon      Monitor
	keystone keystone.KeystoneClient
	conf     conf.NovaRegistryConfig
	// Authenticated nova service client, set on first use.
	sc *gophercloud.ServiceClient
}

// NewNovaRegistry reads the hosts from the enabled and running nova
// hypervisors.
func NewNovaRegistry(mon Monitor, k keystone.KeystoneClient, c conf.NovaRegistryConfig) Registry {
	return &novaRegistry{mon: mon, keystone: k, conf: c}
}

func (r *novaRegistry) init(ctx context.Context) error {
	if r.sc != nil {
		return nil
	}
	if err := r.keystone.Authenticate(ctx); err != nil {
		return fault.Wrap(fault.KindRemote, err, "failed to authenticate against keystone")
	}
	serviceType := "compute"
	url, err := r.keystone.FindEndpoint(r.conf.AvailabilityOrDefault(), serviceType)
	if err != nil {
		return fault.Wrap(fault.KindRemote, err, "failed to find the nova endpoint")
	}
	slog.Info("using nova endpoint", "url", url)
	r.sc = &gophercloud.ServiceClient{
		ProviderClient: r.keystone.Client(),
		Endpoint:       url,
		Type:           serviceType,
		// Since microversion 2.53, the hypervisor id is a UUID.
		Microversion: "2.53",
	}
	return nil
}

func (r *novaRegistry) List(ctx context.Context) ([]Host, error) {
	if err := r.init(ctx); err != nil {
		return nil, err
	}
	defer r.mon.timer("nova")()
	// Note: fetched without gophercloud, which treats the paginated
	// response as a single page.
	initialURL := r.sc.Endpoint + "os-hypervisors/detail"
	var nextURL = &initialURL
	var hosts []Host
	for nextURL != nil {
		list, err := r.fetchPage(ctx, *nextURL)
		if err != nil {
			return nil, err
		}
		for _, h := range list.Hypervisors {
			if h.Status != "enabled" || h.State != "up" {
				continue
			}
			if r.conf.HypervisorType != "" && h.Type != r.conf.HypervisorType {
				continue
			}
			hosts = append(hosts, Host{ID: h.ID, Name: h.Hostname, Address: h.HostIP})
		}
		nextURL = nil
		for _, link := range list.Links {
			if link.Rel == "next" {
				nextURL = &link.Href
				break
			}
		}
	}
	r.mon.observe("nova", hosts)
	slog.Debug("read nova hypervisors", "hosts", len(hosts))
	return hosts, nil
}

type hypervisorPage struct {
	Hypervisors []hypervisor `json:"hypervisors"`
	Links       []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"hypervisors_links"`
}

func (r *novaRegistry) fetchPage(ctx context.Context, url string) (*hypervisorPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fault.Wrap(fault.KindRemote, err, "invalid nova url %s", url)
	}
	req.Header.Set("X-Auth-Token", r.sc.Token())
	req.Header.Set("X-OpenStack-Nova-API-Version", r.sc.Microversion)
	resp, err := r.sc.HTTPClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindRemote, err, "failed to list hypervisors")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Remote("listing hypervisors returned %d", resp.StatusCode)
	}
	var page hypervisorPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fault.Wrap(fault.KindRemote, err, "malformed hypervisor list")
	}
	return &page, nil
}
