// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package hosts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

// Node record of a service catalog, e.g. GET /v1/catalog/service/<name>.
type catalogNode struct {
	ID             string `json:"ID"`
	Node           string `json:"Node"`
	Address        string `json:"Address"`
	ServiceID      string `json:"ServiceID"`
	ServiceAddress string `json:"ServiceAddress"`
	ServicePort    int    `json:"ServicePort"`
	CreateIndex    uint64 `json:"CreateIndex"`
}

func (n catalogNode) host() Host {
	h := Host{
		ID:          n.ServiceID,
		Name:        n.Node,
		Address:     n.ServiceAddress,
		Port:        n.ServicePort,
		CreateIndex: n.CreateIndex,
	}
	if h.ID == "" {
		h.ID = n.ID
	}
	if h.Address == "" {
		h.Address = n.Address
	}
	return h
}

type catalogRegistry struct {
	mon    Monitor
	url    string
	client *http.Client
}

// NewCatalogRegistry reads the hosts from a catalog endpoint returning a
// list of node records.
func NewCatalogRegistry(mon Monitor, url string, client *http.Client) Registry {
	return &catalogRegistry{mon: mon, url: url, client: clientOrDefault(client)}
}

func (r *catalogRegistry) List(ctx context.Context) ([]Host, error) {
	defer r.mon.timer("catalog")()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, http.NoBody)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "invalid registry url %s", r.url)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindRemote, err, "failed to read registry %s", r.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fault.Remote("registry %s returned %d: %s", r.url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var nodes []catalogNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, fault.Wrap(fault.KindRemote, err, "malformed response of registry %s", r.url)
	}
	hosts := make([]Host, 0, len(nodes))
	for _, n := range nodes {
		hosts = append(hosts, n.host())
	}
	r.mon.observe("catalog", hosts)
	slog.Debug("read host registry", "url", r.url, "hosts", len(hosts))
	return hosts, nil
}
