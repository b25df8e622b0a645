// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package settings turns requested setting values into writes on the
// pipeline definition.
package settings

import (
	"log/slog"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/jsonpath"
)

// Value is one requested setting value.
type Value struct {
	Component string
	Setting   string
	Value     any
}

// Assignment writes a value to all locations matched by a path.
type Assignment struct {
	Component string
	Setting   string
	Path      *jsonpath.Path
	Value     any
}

// Spec is a configured setting with its paths compiled.
type Spec struct {
	conf.SettingRef
	Paths  []*jsonpath.Path
	Codec  Codec
	Config conf.SettingConfig
}

// Encode converts a requested value into the value to write.
func (s *Spec) Encode(v any) (any, error) {
	encoded, err := s.Codec.Encode(v)
	if err != nil {
		return nil, fault.Wrap(fault.KindOf(err), err, "setting %s", s.SettingRef)
	}
	if !s.Config.Integer {
		return encoded, nil
	}
	n, err := ToInteger(encoded)
	if err != nil {
		return nil, fault.Wrap(fault.KindInput, err, "setting %s", s.SettingRef)
	}
	return n, nil
}

// Decode converts a value read from the pipeline definition into the value
// reported to the optimizer.
func (s *Spec) Decode(v any) (any, error) {
	decoded, err := s.Codec.Decode(v)
	if err != nil {
		return nil, fault.Wrap(fault.KindOf(err), err, "setting %s", s.SettingRef)
	}
	return decoded, nil
}

// Mapper resolves requested values against the configured settings.
type Mapper struct {
	specs map[conf.SettingRef]*Spec
	order []conf.SettingRef
}

// NewMapper compiles the paths and codecs of all configured settings.
func NewMapper(c *conf.Config) (*Mapper, error) {
	m := &Mapper{specs: map[conf.SettingRef]*Spec{}}
	for _, ref := range c.SettingRefs() {
		setting := c.Components[ref.Component].Settings[ref.Setting]
		spec := &Spec{SettingRef: ref, Config: setting}
		for _, expr := range setting.Paths {
			path, err := jsonpath.Compile(expr)
			if err != nil {
				return nil, fault.Wrap(fault.KindConfig, err, "setting %s", ref)
			}
			spec.Paths = append(spec.Paths, path)
		}
		codec, err := NewCodec(setting)
		if err != nil {
			return nil, fault.Wrap(fault.KindConfig, err, "setting %s", ref)
		}
		spec.Codec = codec
		m.specs[ref] = spec
		m.order = append(m.order, ref)
	}
	return m, nil
}

// Spec looks up a configured setting. Unknown components and settings are
// input errors.
func (m *Mapper) Spec(component, setting string) (*Spec, error) {
	spec, ok := m.specs[conf.SettingRef{Component: component, Setting: setting}]
	if ok {
		return spec, nil
	}
	for ref := range m.specs {
		if ref.Component == component {
			return nil, fault.Input("unknown setting %q of component %q", setting, component)
		}
	}
	return nil, fault.Input("unknown component %q", component)
}

// Specs returns all configured settings sorted by component and setting.
func (m *Mapper) Specs() []*Spec {
	specs := make([]*Spec, 0, len(m.order))
	for _, ref := range m.order {
		specs = append(specs, m.specs[ref])
	}
	return specs
}

// Resolve emits one assignment per declared path of every requested
// setting. Assignments follow the order of the request, and within a
// setting the order of its paths.
func (m *Mapper) Resolve(values []Value) ([]Assignment, error) {
	var assignments []Assignment
	for _, v := range values {
		spec, err := m.Spec(v.Component, v.Setting)
		if err != nil {
			return nil, err
		}
		encoded, err := spec.Encode(v.Value)
		if err != nil {
			return nil, err
		}
		for _, path := range spec.Paths {
			assignments = append(assignments, Assignment{
				Component: v.Component,
				Setting:   v.Setting,
				Path:      path,
				Value:     encoded,
			})
		}
	}
	return assignments, nil
}

// Apply performs the assignments on doc in order and returns the number of
// written locations. Every assignment must match at least once.
func Apply(doc any, assignments []Assignment) (int, error) {
	total := 0
	for _, a := range assignments {
		n, err := a.Path.Update(doc, a.Value)
		if err != nil {
			return total, fault.ForSetting(err, a.Component, a.Setting)
		}
		slog.Debug("updated pipeline definition",
			"component", a.Component, "setting", a.Setting,
			"path", a.Path.String(), "locations", n)
		total += n
	}
	return total, nil
}
