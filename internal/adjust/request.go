// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package adjust

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/settings"
)

// Request asks for new values of some settings.
type Request struct {
	// Requested values in the order they appear in the request document.
	Values []settings.Value
	// Free-form metadata of the caller, passed on to the execution.
	Annotations map[string]any
}

// ParseRequest reads a request document:
//
//	{"application": {"components": {"web": {"settings": {"replicas": {"value": 3}}}}},
//	 "annotations": {"reason": "scale up"}}
//
// A bare value may be given instead of {"value": ...}.
func ParseRequest(r io.Reader) (*Request, error) {
	var doc struct {
		Application struct {
			Components json.RawMessage `json:"components"`
		} `json:"application"`
		Annotations map[string]any `json:"annotations"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fault.Wrap(fault.KindInput, err, "malformed request")
	}
	req := &Request{Annotations: doc.Annotations}
	if len(doc.Application.Components) == 0 {
		return req, nil
	}
	components, err := orderedObject(doc.Application.Components)
	if err != nil {
		return nil, fault.Wrap(fault.KindInput, err, "malformed components in request")
	}
	for _, component := range components {
		var c struct {
			Settings json.RawMessage `json:"settings"`
		}
		if err := json.Unmarshal(component.value, &c); err != nil {
			return nil, fault.Wrap(fault.KindInput, err, "malformed component %q in request", component.key)
		}
		if len(c.Settings) == 0 {
			continue
		}
		values, err := orderedObject(c.Settings)
		if err != nil {
			return nil, fault.Wrap(fault.KindInput, err, "malformed settings of component %q in request", component.key)
		}
		for _, setting := range values {
			v, err := settingValue(setting.value)
			if err != nil {
				return nil, fault.Wrap(fault.KindInput, err, "malformed value of %s.%s in request", component.key, setting.key)
			}
			req.Values = append(req.Values, settings.Value{
				Component: component.key,
				Setting:   setting.key,
				Value:     v,
			})
		}
	}
	return req, nil
}

type member struct {
	key   string
	value json.RawMessage
}

// Decodes a JSON object keeping the order of its members.
func orderedObject(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected an object")
	}
	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected an object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		members = append(members, member{key: key, value: value})
	}
	return members, nil
}

func settingValue(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		value, ok := obj["value"]
		if !ok {
			return nil, errors.New("object without value")
		}
		return value, nil
	}
	return v, nil
}
