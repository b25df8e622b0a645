// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/jsonpath"
)

var validate = validator.New()

// SettingRef names a setting of a component.
type SettingRef struct {
	Component string
	Setting   string
}

func (r SettingRef) String() string {
	return r.Component + "." + r.Setting
}

// Validate the struct tags and the rules spanning several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fault.Wrap(fault.KindConfig, err, "invalid configuration")
	}
	var hostCount []SettingRef
	for _, ref := range c.SettingRefs() {
		setting := c.Components[ref.Component].Settings[ref.Setting]
		for _, expr := range setting.Paths {
			if _, err := jsonpath.Compile(expr); err != nil {
				return fault.Wrap(fault.KindConfig, err, "setting %s", ref)
			}
		}
		if err := setting.validateCodec(); err != nil {
			return fault.Wrap(fault.KindConfig, err, "setting %s", ref)
		}
		if setting.HostCount {
			hostCount = append(hostCount, ref)
		}
	}
	if len(hostCount) > 1 {
		return fault.Config("at most one setting may carry the host count, got %v", hostCount)
	}
	if c.HealthCheck == nil {
		return nil
	}
	if len(hostCount) == 0 {
		return fault.Config("health checks need a setting flagged as host count")
	}
	registry := c.HealthCheck.Registry
	if (registry.URL == "") == (registry.Nova == nil) {
		return fault.Config("health check registry needs exactly one of url and nova")
	}
	if c.HealthCheck.Fresh != nil && c.HealthCheck.Probe != nil {
		return fault.Config("health check may either use fresh or probe, not both")
	}
	if probe := c.HealthCheck.Probe; probe != nil && !strings.Contains(probe.URL, "{") {
		return fault.Config("probe url %q does not reference any host field", probe.URL)
	}
	return nil
}

func (s SettingConfig) validateCodec() error {
	if s.Codec == nil {
		return nil
	}
	switch s.Codec.Name {
	case CodecChoices:
		if len(s.Values) == 0 {
			return fault.Config("codec %s needs values", s.Codec.Name)
		}
	case CodecScale:
		if s.Codec.Factor == 0 {
			return fault.Config("codec %s needs a non-zero factor", s.Codec.Name)
		}
	}
	return nil
}

// SettingRefs lists all configured settings sorted by component and setting.
func (c *Config) SettingRefs() []SettingRef {
	var refs []SettingRef
	for component, cc := range c.Components {
		for setting := range cc.Settings {
			refs = append(refs, SettingRef{Component: component, Setting: setting})
		}
	}
	slices.SortFunc(refs, func(a, b SettingRef) int {
		if n := strings.Compare(a.Component, b.Component); n != 0 {
			return n
		}
		return strings.Compare(a.Setting, b.Setting)
	})
	return refs
}

// HostCountSetting returns the setting whose value is the expected number
// of hosts, if any.
func (c *Config) HostCountSetting() (SettingRef, bool) {
	for _, ref := range c.SettingRefs() {
		if c.Components[ref.Component].Settings[ref.Setting].HostCount {
			return ref, true
		}
	}
	return SettingRef{}, false
}
