// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package adjust

import (
	"context"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

// SettingState is the current value of a setting and how it may change.
type SettingState struct {
	Value  any      `json:"value"`
	Type   string   `json:"type,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Step   *float64 `json:"step,omitempty"`
	Values []any    `json:"values,omitempty"`
}

type ComponentState struct {
	Settings map[string]SettingState `json:"settings"`
}

// QueryResult mirrors the shape of a request document.
type QueryResult struct {
	Application struct {
		Components map[string]ComponentState `json:"components"`
	} `json:"application"`
}

// Query reads the current value of every configured setting from the
// pipeline definition. Each setting is read at its first path only.
func (o *Orchestrator) Query(ctx context.Context) (*QueryResult, error) {
	update := o.conf.Pipeline.Update
	definition, err := o.api.FetchDefinition(ctx, update.Application, update.Pipeline)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{}
	result.Application.Components = map[string]ComponentState{}
	for _, spec := range o.mapper.Specs() {
		matches, err := spec.Paths[0].Find(definition)
		if err != nil {
			return nil, fault.ForSetting(err, spec.Component, spec.Setting)
		}
		value, err := spec.Decode(matches[0].Value)
		if err != nil {
			return nil, err
		}
		component, ok := result.Application.Components[spec.Component]
		if !ok {
			component = ComponentState{Settings: map[string]SettingState{}}
			result.Application.Components[spec.Component] = component
		}
		component.Settings[spec.Setting] = SettingState{
			Value:  value,
			Type:   spec.Config.Type,
			Min:    spec.Config.Min,
			Max:    spec.Config.Max,
			Step:   spec.Config.Step,
			Values: spec.Config.Values,
		}
		o.runtime.Debug("read setting", "setting", spec.String(), "value", value)
	}
	return result, nil
}
