// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/hosts"
)

var (
	hostA = hosts.Host{ID: "a", Name: "a", Address: "10.0.0.1", CreateIndex: 1}
	hostB = hosts.Host{ID: "b", Name: "b", Address: "10.0.0.2", CreateIndex: 2}
	hostC = hosts.Host{ID: "c", Name: "c", Address: "10.0.0.3", CreateIndex: 3}
	hostD = hosts.Host{ID: "d", Name: "d", Address: "10.0.0.4", CreateIndex: 4}
	hostE = hosts.Host{ID: "e", Name: "e", Address: "10.0.0.5", CreateIndex: 5}
)

// Returns the snapshots in order and then keeps returning the last one.
type fakeRegistry struct {
	snapshots [][]hosts.Host
	err       error
	calls     int
}

func (r *fakeRegistry) List(ctx context.Context) ([]hosts.Host, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	i := min(r.calls, len(r.snapshots)) - 1
	return r.snapshots[i], nil
}

type progressRecorder struct {
	values []float64
}

func (p *progressRecorder) record(percent float64, message string) {
	p.values = append(p.values, percent)
}

func healthConf(mode string) conf.HealthCheckConfig {
	return conf.HealthCheckConfig{
		TimeoutSeconds:       60,
		RetryIntervalSeconds: 15,
		Fresh:                &conf.FreshConfig{Mode: mode},
	}
}

func TestVerify_FreshHostJoined(t *testing.T) {
	registry := &fakeRegistry{snapshots: [][]hosts.Host{{hostA, hostB, hostC}}}
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	v := NewVerifier(registry, healthConf(conf.FreshModeChanged), clk, nil)

	err := v.Verify(t.Context(), 3, sets.New(hostA, hostB), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if registry.calls != 1 {
		t.Errorf("expected a single registry read, got %d", registry.calls)
	}
}

func TestVerify_RetriesUntilExpectedCount(t *testing.T) {
	registry := &fakeRegistry{snapshots: [][]hosts.Host{
		{hostA, hostB},
		{hostA, hostB},
		{hostA, hostB, hostC},
	}}
	start := time.Unix(0, 0)
	clk := clocktesting.NewFakeClock(start)
	v := NewVerifier(registry, healthConf(""), clk, nil)
	progress := &progressRecorder{}

	err := v.Verify(t.Context(), 3, sets.New(hostA, hostB), progress.record)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if registry.calls != 3 {
		t.Errorf("expected 3 registry reads, got %d", registry.calls)
	}
	if got := clk.Since(start); got != 30*time.Second {
		t.Errorf("expected 30s to pass, got %s", got)
	}
	if len(progress.values) != 2 {
		t.Fatalf("expected 2 progress reports, got %v", progress.values)
	}
	for i, p := range progress.values {
		if p < ProgressStart || p > ProgressEnd {
			t.Errorf("progress %v outside of the health band", p)
		}
		if i > 0 && p <= progress.values[i-1] {
			t.Errorf("expected increasing progress, got %v", progress.values)
		}
	}
}

func TestVerify_TimeoutNamesExpectedCount(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []hosts.Host
		expected int
		reason   string
	}{
		{"count never reached", []hosts.Host{hostA, hostB}, 3, "found 2 of 3 hosts"},
		{"fleet unchanged", []hosts.Host{hostA, hostB}, 2, "unchanged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &fakeRegistry{snapshots: [][]hosts.Host{tt.snapshot}}
			start := time.Unix(0, 0)
			clk := clocktesting.NewFakeClock(start)
			v := NewVerifier(registry, healthConf(conf.FreshModeChanged), clk, nil)

			err := v.Verify(t.Context(), tt.expected, sets.New(hostA, hostB), nil)
			if fault.KindOf(err) != fault.KindTimeout {
				t.Fatalf("expected timeout error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("expected %q in error, got %v", tt.reason, err)
			}
			// Reads at 0s, 15s, 30s, 45s and 60s.
			if registry.calls != 5 {
				t.Errorf("expected 5 registry reads, got %d", registry.calls)
			}
			if got := clk.Since(start); got != time.Minute {
				t.Errorf("expected the whole budget to be used, got %s", got)
			}
		})
	}
}

func TestVerify_Disjoint(t *testing.T) {
	registry := &fakeRegistry{snapshots: [][]hosts.Host{
		{hostB, hostC, hostD},
		{hostC, hostD, hostE},
	}}
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	v := NewVerifier(registry, healthConf(conf.FreshModeDisjoint), clk, nil)

	if err := v.Verify(t.Context(), 3, sets.New(hostA, hostB), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if registry.calls != 2 {
		t.Errorf("expected 2 registry reads, got %d", registry.calls)
	}
}

func TestVerify_DuplicateRecordsAreCounted(t *testing.T) {
	registry := &fakeRegistry{snapshots: [][]hosts.Host{
		{hostA, hostC, hostC},
		{hostA, hostC},
	}}
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	v := NewVerifier(registry, healthConf(conf.FreshModeChanged), clk, nil)

	if err := v.Verify(t.Context(), 2, sets.New(hostA, hostB), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if registry.calls != 2 {
		t.Errorf("expected the duplicated listing to be retried, got %d registry reads", registry.calls)
	}
}

func TestVerify_ReplacedHostWithSameAddressIsFresh(t *testing.T) {
	replaced := hostB
	replaced.ID = "b2"
	replaced.CreateIndex = 20
	registry := &fakeRegistry{snapshots: [][]hosts.Host{{hostA, replaced}}}
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	v := NewVerifier(registry, healthConf(conf.FreshModeChanged), clk, nil)

	if err := v.Verify(t.Context(), 2, sets.New(hostA, hostB), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestVerify_RegistryErrorIsFatal(t *testing.T) {
	registry := &fakeRegistry{err: fault.Remote("registry unavailable")}
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	v := NewVerifier(registry, healthConf(""), clk, nil)

	err := v.Verify(t.Context(), 3, nil, nil)
	if fault.KindOf(err) != fault.KindRemote {
		t.Errorf("expected remote error, got %v", err)
	}
	if registry.calls != 1 {
		t.Errorf("expected no retries, got %d reads", registry.calls)
	}
}

func TestSnapshot(t *testing.T) {
	registry := &fakeRegistry{snapshots: [][]hosts.Host{{hostA, hostB}}}
	v := NewVerifier(registry, healthConf(""), clocktesting.NewFakeClock(time.Unix(0, 0)), nil)
	baseline, err := v.Snapshot(t.Context())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !baseline.Equal(sets.New(hostA, hostB)) {
		t.Errorf("unexpected baseline %v", baseline.UnsortedList())
	}
	if !v.NeedsBaseline() {
		t.Error("expected the freshness strategy to need a baseline")
	}
}

// Health endpoint that fails a configurable number of times per host.
type probeServer struct {
	mu       sync.Mutex
	failures map[string]int
	status   int
	probed   []string
}

func (s *probeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.Trim(strings.TrimSuffix(r.URL.Path, "/health"), "/")
	s.probed = append(s.probed, name)
	if s.failures[name] > 0 {
		s.failures[name]--
		w.WriteHeader(s.status)
		if _, err := w.Write([]byte("starting")); err != nil {
			panic(err)
		}
		return
	}
	if _, err := w.Write([]byte("status: OK")); err != nil {
		panic(err)
	}
}

func TestVerify_ProbeRestartsPassOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"missing marker", http.StatusOK},
		{"error status", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probes := &probeServer{failures: map[string]int{"b": 1}, status: tt.status}
			server := httptest.NewServer(probes)
			defer server.Close()

			registry := &fakeRegistry{snapshots: [][]hosts.Host{{hostA, hostB, hostC}}}
			clk := clocktesting.NewFakeClock(time.Unix(0, 0))
			c := conf.HealthCheckConfig{
				TimeoutSeconds:       60,
				RetryIntervalSeconds: 15,
				Probe:                &conf.ProbeConfig{URL: server.URL + "/{name}/health", Marker: "OK"},
			}
			v := NewVerifier(registry, c, clk, server.Client())
			if v.NeedsBaseline() {
				t.Error("expected the probe strategy to work without a baseline")
			}

			if err := v.Verify(t.Context(), 3, nil, nil); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			expected := []string{"a", "b", "a", "b", "c"}
			if !reflect.DeepEqual(probes.probed, expected) {
				t.Errorf("expected probes %v, got %v", expected, probes.probed)
			}
			if registry.calls != 2 {
				t.Errorf("expected the registry to be read again after a failed pass, got %d reads", registry.calls)
			}
		})
	}
}

func TestVerify_ProbeNeverHealthy(t *testing.T) {
	probes := &probeServer{failures: map[string]int{"c": 100}, status: http.StatusOK}
	server := httptest.NewServer(probes)
	defer server.Close()

	registry := &fakeRegistry{snapshots: [][]hosts.Host{{hostA, hostB, hostC}}}
	c := conf.HealthCheckConfig{
		TimeoutSeconds:       30,
		RetryIntervalSeconds: 10,
		Probe:                &conf.ProbeConfig{URL: server.URL + "/{name}/health", Marker: "OK"},
	}
	v := NewVerifier(registry, c, clocktesting.NewFakeClock(time.Unix(0, 0)), server.Client())
	err := v.Verify(t.Context(), 3, nil, nil)
	if fault.KindOf(err) != fault.KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !strings.Contains(err.Error(), "3 healthy hosts") {
		t.Errorf("expected the expected count in the error, got %v", err)
	}
}

func TestProbeURL(t *testing.T) {
	h := hosts.Host{ID: "i-1", Name: "web-1", Address: "10.0.0.1", Port: 8080}
	got := ProbeURL("http://{address}:{port}/health?id={id}&name={name}", h)
	expected := "http://10.0.0.1:8080/health?id=i-1&name=web-1"
	if got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}
