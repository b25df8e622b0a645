// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package pipeline talks to the REST API of the pipeline service.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

// Execution states reported by the pipeline service.
const (
	StatusNotStarted = "NOT_STARTED"
	StatusRunning    = "RUNNING"
	StatusSuspended  = "SUSPENDED"
	StatusPaused     = "PAUSED"
	StatusSucceeded  = "SUCCEEDED"
)

// Executions in these states block a new execution of the same pipeline.
var ActiveStatuses = []string{StatusRunning, StatusSuspended, StatusPaused, StatusNotStarted}

// Request body to start an execution.
type InvokeRequest struct {
	Type       string         `json:"type"`
	User       string         `json:"user"`
	Parameters map[string]any `json:"parameters"`
}

// Status of an execution. The raw document is kept for progress
// estimation and diagnostics.
type Status struct {
	Status string
	Raw    map[string]any
}

type API interface {
	// Fetch the definition of a pipeline.
	FetchDefinition(ctx context.Context, application, pipeline string) (map[string]any, error)
	// Replace a pipeline definition. The definition identifies the pipeline.
	PushDefinition(ctx context.Context, definition map[string]any) error
	// List the executions of an application that are in one of the statuses.
	ListExecutions(ctx context.Context, application string, statuses []string) ([]map[string]any, error)
	// Start an execution and return the reference to poll it.
	Invoke(ctx context.Context, application, pipeline string, req InvokeRequest) (string, error)
	// Get the status of an execution by its reference.
	GetStatus(ctx context.Context, ref string) (Status, error)
}

type api struct {
	// Monitor to track the api.
	mon Monitor
	// Base URL of the pipeline service.
	baseURL string
	client  *http.Client
}

// Create a new pipeline service client. Requests are not retried.
func NewAPI(mon Monitor, baseURL string, client *http.Client) API {
	if client == nil {
		client = http.DefaultClient
	}
	return &api{mon: mon, baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (a *api) FetchDefinition(ctx context.Context, application, pipeline string) (map[string]any, error) {
	u := a.baseURL + "/applications/" + url.PathEscape(application) + "/pipelineConfigs/" + url.PathEscape(pipeline)
	var definition map[string]any
	if err := a.do(ctx, "fetch", http.MethodGet, u, nil, http.StatusOK, &definition); err != nil {
		return nil, err
	}
	if len(definition) == 0 {
		return nil, fault.Remote("pipeline %s of application %s has an empty definition", pipeline, application)
	}
	slog.Info("fetched pipeline definition", "application", application, "pipeline", pipeline)
	return definition, nil
}

func (a *api) PushDefinition(ctx context.Context, definition map[string]any) error {
	if err := a.do(ctx, "push", http.MethodPost, a.baseURL+"/pipelines", definition, http.StatusOK, nil); err != nil {
		return err
	}
	slog.Info("pushed pipeline definition", "application", definition["application"], "pipeline", definition["name"])
	return nil
}

func (a *api) ListExecutions(ctx context.Context, application string, statuses []string) ([]map[string]any, error) {
	u := a.baseURL + "/applications/" + url.PathEscape(application) + "/pipelines"
	if len(statuses) > 0 {
		u += "?statuses=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var executions []map[string]any
	if err := a.do(ctx, "list", http.MethodGet, u, nil, http.StatusOK, &executions); err != nil {
		return nil, err
	}
	slog.Debug("listed executions", "application", application, "count", len(executions))
	return executions, nil
}

func (a *api) Invoke(ctx context.Context, application, pipeline string, req InvokeRequest) (string, error) {
	u := a.baseURL + "/pipelines/" + url.PathEscape(application) + "/" + url.PathEscape(pipeline)
	var resp struct {
		Ref string `json:"ref"`
	}
	if err := a.do(ctx, "invoke", http.MethodPost, u, req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	if resp.Ref == "" {
		return "", fault.Remote("invoking pipeline %s of application %s returned no execution ref", pipeline, application)
	}
	slog.Info("invoked pipeline", "application", application, "pipeline", pipeline, "ref", resp.Ref)
	return resp.Ref, nil
}

func (a *api) GetStatus(ctx context.Context, ref string) (Status, error) {
	u := ref
	if parsed, err := url.Parse(ref); err != nil || !parsed.IsAbs() {
		u = a.baseURL + "/" + strings.TrimPrefix(ref, "/")
	}
	var raw map[string]any
	if err := a.do(ctx, "status", http.MethodGet, u, nil, http.StatusOK, &raw); err != nil {
		return Status{}, err
	}
	status, _ := raw["status"].(string)
	if status == "" {
		return Status{}, fault.Remote("execution %s has no status", ref)
	}
	return Status{Status: status, Raw: raw}, nil
}

// Perform a single request and decode the response into out. Responses
// with another status than expected are remote errors that embed the body.
func (a *api) do(ctx context.Context, op, method, u string, in any, expected int, out any) error {
	if a.mon.RequestTimer != nil {
		hist := a.mon.RequestTimer.WithLabelValues(op)
		timer := prometheus.NewTimer(hist)
		defer timer.ObserveDuration()
	}
	var body io.Reader = http.NoBody
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fault.Wrap(fault.KindConfig, err, "invalid pipeline service url %s", u)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.countError(op)
		return fault.Wrap(fault.KindRemote, err, "%s %s failed", method, u)
	}
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		a.countError(op)
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fault.Remote("%s %s returned %d, expected %d: %s",
			method, u, resp.StatusCode, expected, strings.TrimSpace(string(text)))
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.KindRemote, err, "failed to read response of %s %s", method, u)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		// An empty body decodes to the zero value, callers decide.
		return nil
	}
	// Numbers stay json.Number so untouched values are pushed back verbatim.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		a.countError(op)
		return fault.Wrap(fault.KindRemote, err, "malformed response of %s %s", method, u)
	}
	return nil
}

func (a *api) countError(op string) {
	if a.mon.RequestErrors != nil {
		a.mon.RequestErrors.WithLabelValues(op).Inc()
	}
}
