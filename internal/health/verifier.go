// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package health verifies that the fleet reached the expected size after a
// deployment.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/hosts"
)

// Progress reported while verifying lies in this band.
const (
	ProgressStart = 90.0
	ProgressEnd   = 99.0
)

// ProgressFunc receives a percentage and a human readable message.
type ProgressFunc func(percent float64, message string)

// Verifier polls the host registry until the fleet is healthy or the time
// budget is used up. The strategy is chosen by the configuration: with a
// probe, every host must answer its health endpoint. Otherwise the host set
// must be fresh compared to a snapshot taken before the deployment.
type Verifier struct {
	registry hosts.Registry
	conf     conf.HealthCheckConfig
	clock    clock.Clock
	client   *http.Client
}

func NewVerifier(registry hosts.Registry, c conf.HealthCheckConfig, clk clock.Clock, client *http.Client) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{registry: registry, conf: c, clock: clk, client: client}
}

// NeedsBaseline tells whether Verify compares against a snapshot.
func (v *Verifier) NeedsBaseline() bool {
	return v.conf.Probe == nil
}

// Snapshot reads the current fleet as baseline for Verify.
func (v *Verifier) Snapshot(ctx context.Context) (sets.Set[hosts.Host], error) {
	current, err := v.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return sets.New(current...), nil
}

// Verify blocks until the fleet has the expected number of healthy hosts.
// Registry errors abort the verification, failed checks are retried until
// the timeout.
func (v *Verifier) Verify(ctx context.Context, expected int, baseline sets.Set[hosts.Host], progress ProgressFunc) error {
	budget := v.conf.Timeout()
	start := v.clock.Now()
	for attempt := 1; ; attempt++ {
		current, err := v.registry.List(ctx)
		if err != nil {
			return err
		}
		reason := v.check(ctx, expected, current, baseline)
		if reason == "" {
			slog.Info("fleet is healthy", "hosts", len(current), "attempts", attempt)
			return nil
		}
		elapsed := v.clock.Since(start)
		if elapsed >= budget {
			return fault.Timeout("fleet did not reach %d healthy hosts within %s: %s", expected, budget, reason)
		}
		slog.Debug("fleet is not healthy yet", "attempt", attempt, "reason", reason)
		if progress != nil {
			progress(bandProgress(elapsed, budget), "waiting for healthy hosts: "+reason)
		}
		v.clock.Sleep(v.conf.RetryInterval())
	}
}

// Returns why the fleet is not healthy, or an empty string if it is.
func (v *Verifier) check(ctx context.Context, expected int, current []hosts.Host, baseline sets.Set[hosts.Host]) string {
	// Every record counts, a registry listing a host twice is not healthy.
	if len(current) != expected {
		return fmt.Sprintf("found %d of %d hosts", len(current), expected)
	}
	observed := sets.New(current...)
	if v.conf.Probe != nil {
		// Probe in registry order, the first failure abandons the pass.
		for _, h := range current {
			if err := v.probe(ctx, h); err != nil {
				return fmt.Sprintf("host %s is not healthy: %v", h, err)
			}
		}
		return ""
	}
	switch v.conf.FreshMode() {
	case conf.FreshModeDisjoint:
		if stale := observed.Intersection(baseline); stale.Len() > 0 {
			return fmt.Sprintf("%d hosts predate the deployment", stale.Len())
		}
	default:
		if observed.Equal(baseline) {
			return "host set is unchanged since the deployment started"
		}
	}
	return ""
}

func (v *Verifier) probe(ctx context.Context, h hosts.Host) error {
	ctx, cancel := context.WithTimeout(ctx, v.conf.Probe.Timeout())
	defer cancel()
	u := ProbeURL(v.conf.Probe.URL, h)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), v.conf.Probe.Marker) {
		return fmt.Errorf("%s does not contain %q", u, v.conf.Probe.Marker)
	}
	return nil
}

// ProbeURL fills the host fields into a health URL template.
func ProbeURL(template string, h hosts.Host) string {
	return strings.NewReplacer(
		"{address}", h.Address,
		"{id}", h.ID,
		"{name}", h.Name,
		"{port}", strconv.Itoa(h.Port),
	).Replace(template)
}

func bandProgress(elapsed, budget time.Duration) float64 {
	ratio := float64(elapsed) / float64(budget)
	return ProgressStart + (ProgressEnd-ProgressStart)*min(ratio, 1)
}
