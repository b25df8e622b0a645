// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package adjust applies requested setting values to a pipeline definition,
// runs the pipeline and waits until the fleet reflects the change.
package adjust

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/majewsky/gg/option"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/health"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/hosts"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/jsonpath"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/pipeline"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/settings"
)

// Phase of an adjustment. Phases run in the order declared here, an error
// in any of them ends the adjustment.
type Phase string

const (
	PhaseFetching      Phase = "fetching"
	PhaseMutating      Phase = "mutating"
	PhaseConflictCheck Phase = "conflict_check"
	PhasePushing       Phase = "pushing"
	PhaseInvoking      Phase = "invoking"
	PhasePolling       Phase = "polling"
	PhaseVerifying     Phase = "verifying_health"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// Progress of the deployment is compressed below this value, the rest is
// left for the health verification.
const deployProgressShare = 90.0

// Result describes a finished or aborted adjustment.
type Result struct {
	ID string
	// Last phase entered, PhaseFailed if the adjustment failed.
	Phase Phase
	// The definition as fetched, for diagnostics.
	Original map[string]any
	// The definition as pushed.
	Mutated map[string]any
	// Number of locations written in the definition.
	Writes       int
	ExecutionRef string
	Polls        int
}

type Orchestrator struct {
	conf     *conf.Config
	mapper   *settings.Mapper
	api      pipeline.API
	verifier option.Option[*health.Verifier]
	clock    clock.Clock
	mon      Monitor
	runtime  Runtime
}

// NewOrchestrator wires an orchestrator. The verifier may be nil when no
// health check is configured.
func NewOrchestrator(
	c *conf.Config,
	api pipeline.API,
	verifier *health.Verifier,
	clk clock.Clock,
	mon Monitor,
	runtime Runtime,
) (*Orchestrator, error) {
	mapper, err := settings.NewMapper(c)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		conf:     c,
		mapper:   mapper,
		api:      api,
		verifier: option.None[*health.Verifier](),
		clock:    clk,
		mon:      mon,
		runtime:  runtime,
	}
	if verifier != nil {
		o.verifier = option.Some(verifier)
	}
	return o, nil
}

// Run of a single adjustment.
type run struct {
	*Orchestrator
	req        *Request
	result     *Result
	log        *slog.Logger
	phaseStart time.Time
	progress   float64
}

// Adjust performs one adjustment. It is not idempotent: calling it twice
// runs the pipeline twice.
func (o *Orchestrator) Adjust(ctx context.Context, req *Request) (*Result, error) {
	r := &run{
		Orchestrator: o,
		req:          req,
		result:       &Result{ID: uuid.NewString()},
	}
	r.log = slog.With("adjustment", r.result.ID)
	err := r.execute(ctx)
	r.finishPhase()
	if err != nil {
		r.result.Phase = PhaseFailed
		r.log.Error("adjustment failed", "kind", fault.KindOf(err), "error", err)
		r.count(string(fault.KindOf(err)))
		return r.result, err
	}
	r.log.Info("adjustment succeeded", "execution", r.result.ExecutionRef)
	r.count("ok")
	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	update := r.conf.Pipeline.Update
	invoke := r.conf.Pipeline.InvokeRef()

	// Unknown settings and unencodable values fail before any remote call.
	assignments, err := r.mapper.Resolve(r.req.Values)
	if err != nil {
		return err
	}

	r.enter(PhaseFetching)
	r.runtime.Debug("fetching pipeline definition", "application", update.Application, "pipeline", update.Pipeline)
	original, err := r.api.FetchDefinition(ctx, update.Application, update.Pipeline)
	if err != nil {
		return err
	}
	r.result.Original = original

	r.enter(PhaseMutating)
	mutated, ok := jsonpath.DeepCopy(original).(map[string]any)
	if !ok {
		return fault.Remote("pipeline definition is not an object")
	}
	writes, err := settings.Apply(mutated, assignments)
	if err != nil {
		return err
	}
	r.result.Mutated = mutated
	r.result.Writes = writes
	r.runtime.Debug("mutated pipeline definition", "assignments", len(assignments), "writes", writes)
	expected := option.None[int]()
	if r.verifier.IsSome() {
		if expected, err = r.expectedHosts(original); err != nil {
			return err
		}
	}

	r.enter(PhaseConflictCheck)
	if err := r.checkConflict(ctx, invoke); err != nil {
		return err
	}

	baseline := r.snapshot(ctx)

	r.enter(PhasePushing)
	if err := r.api.PushDefinition(ctx, mutated); err != nil {
		return err
	}

	r.enter(PhaseInvoking)
	ref, err := r.api.Invoke(ctx, invoke.Application, invoke.Pipeline, pipeline.InvokeRequest{
		Type:       "manual",
		User:       r.conf.Pipeline.UserOrDefault(),
		Parameters: r.parameters(),
	})
	if err != nil {
		return err
	}
	r.result.ExecutionRef = ref

	r.enter(PhasePolling)
	if err := r.poll(ctx, ref); err != nil {
		return err
	}

	if verifier, ok := r.verifier.Unpack(); ok {
		r.enter(PhaseVerifying)
		count, _ := expected.Unpack()
		r.emit(health.ProgressStart, fmt.Sprintf("waiting for %d healthy hosts", count))
		if err := verifier.Verify(ctx, count, baseline, r.emit); err != nil {
			return err
		}
	}

	r.enter(PhaseDone)
	r.emit(100, "adjustment complete")
	return nil
}

// The host count setting from the request, or the current value in the
// fetched definition when the request leaves it alone.
func (r *run) expectedHosts(original map[string]any) (option.Option[int], error) {
	ref, ok := r.conf.HostCountSetting()
	if !ok {
		return option.None[int](), fault.Config("health checks need a setting flagged as host count")
	}
	spec, err := r.mapper.Spec(ref.Component, ref.Setting)
	if err != nil {
		return option.None[int](), err
	}
	for _, v := range r.req.Values {
		if v.Component != ref.Component || v.Setting != ref.Setting {
			continue
		}
		encoded, err := spec.Encode(v.Value)
		if err != nil {
			return option.None[int](), err
		}
		n, err := settings.ToInteger(encoded)
		if err != nil {
			return option.None[int](), fault.Wrap(fault.KindInput, err, "host count setting %s", ref)
		}
		return option.Some(int(n)), nil
	}
	matches, err := spec.Paths[0].Find(original)
	if err != nil {
		return option.None[int](), fault.Input("cannot determine the expected host count: "+
			"setting %s is not in the request and %s matches nothing", ref, spec.Paths[0])
	}
	n, err := settings.ToInteger(matches[0].Value)
	if err != nil {
		return option.None[int](), fault.Wrap(fault.KindInput, err, "current value of host count setting %s", ref)
	}
	r.log.Info("using current host count", "setting", ref.String(), "hosts", n)
	return option.Some(int(n)), nil
}

// Best effort only, another execution may start right after the check.
func (r *run) checkConflict(ctx context.Context, invoke conf.PipelineRef) error {
	executions, err := r.api.ListExecutions(ctx, invoke.Application, pipeline.ActiveStatuses)
	if err != nil {
		return err
	}
	active := sets.New[string]()
	for _, e := range executions {
		if name, ok := e["name"].(string); ok {
			active.Insert(strings.ToLower(name))
		}
	}
	if active.Has(strings.ToLower(invoke.Pipeline)) {
		return fault.Conflict("pipeline %s of application %s is already active", invoke.Pipeline, invoke.Application)
	}
	return nil
}

// Baseline for the freshness check. A failed snapshot is not fatal, the
// fleet is then compared against an empty baseline.
func (r *run) snapshot(ctx context.Context) sets.Set[hosts.Host] {
	verifier, ok := r.verifier.Unpack()
	if !ok || !verifier.NeedsBaseline() {
		return nil
	}
	baseline, err := verifier.Snapshot(ctx)
	if err != nil {
		r.log.Warn("failed to snapshot the fleet, continuing with an empty baseline", "error", err)
		return sets.New[hosts.Host]()
	}
	r.runtime.Debug("took fleet snapshot", "hosts", baseline.Len())
	return baseline
}

func (r *run) parameters() map[string]any {
	if len(r.conf.Pipeline.Parameters) > 0 {
		return maps.Clone(r.conf.Pipeline.Parameters)
	}
	params := map[string]any{}
	maps.Copy(params, r.req.Annotations)
	params["adjustmentId"] = r.result.ID
	return params
}

// Poll the execution until it succeeded. Only a running execution is
// waited for, any other status fails the adjustment.
func (r *run) poll(ctx context.Context, ref string) error {
	timeout := r.conf.Pipeline.DeployTimeout()
	interval := r.conf.Pipeline.PollInterval()
	start := r.clock.Now()
	for {
		status, err := r.api.GetStatus(ctx, ref)
		if err != nil {
			return err
		}
		r.result.Polls++
		if r.mon.Polls != nil {
			r.mon.Polls.Inc()
		}
		switch status.Status {
		case pipeline.StatusSucceeded:
			r.emit(deployProgressShare, "deployment succeeded")
			return nil
		case pipeline.StatusRunning:
			elapsed := r.clock.Since(start)
			if elapsed >= timeout {
				return fault.Timeout("execution %s still running after %s", ref, timeout)
			}
			r.emit(deployProgress(status.Raw, elapsed, timeout), "deployment running")
		default:
			raw, _ := json.Marshal(status.Raw)
			return fault.Remote("execution %s ended with status %s: %s", ref, status.Status, raw)
		}
		r.clock.Sleep(interval)
	}
}

// Share of completed tasks, or of the elapsed deploy timeout when the
// status has no tasks, scaled into the deployment share.
func deployProgress(raw map[string]any, elapsed, timeout time.Duration) float64 {
	total, done := 0, 0
	stages, _ := raw["stages"].([]any)
	for _, s := range stages {
		stage, ok := s.(map[string]any)
		if !ok {
			continue
		}
		tasks, _ := stage["tasks"].([]any)
		for _, t := range tasks {
			task, ok := t.(map[string]any)
			if !ok {
				continue
			}
			total++
			if task["endTime"] != nil {
				done++
			}
		}
	}
	ratio := float64(elapsed) / float64(timeout)
	if total > 0 {
		ratio = float64(done) / float64(total)
	}
	return deployProgressShare * min(max(ratio, 0), 1)
}

// Report progress to the runtime. Progress never goes backwards.
func (r *run) emit(percent float64, message string) {
	r.progress = max(r.progress, percent)
	if r.mon.Progress != nil {
		r.mon.Progress.Set(r.progress)
	}
	r.runtime.EmitProgress(r.progress, message)
}

func (r *run) enter(phase Phase) {
	r.finishPhase()
	r.result.Phase = phase
	r.phaseStart = r.clock.Now()
	r.log.Debug("entering phase", "phase", phase)
}

func (r *run) finishPhase() {
	if r.result.Phase == "" || r.mon.PhaseTimer == nil {
		return
	}
	r.mon.PhaseTimer.WithLabelValues(string(r.result.Phase)).Observe(r.clock.Since(r.phaseStart).Seconds())
}

func (r *run) count(result string) {
	if r.mon.Adjustments != nil {
		r.mon.Adjustments.WithLabelValues(result).Inc()
	}
}
