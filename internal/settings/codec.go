// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/conf"
	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

// Codec translates between the value an optimizer asks for and the value
// written into the pipeline definition.
type Codec interface {
	// Request value to document value.
	Encode(v any) (any, error)
	// Document value to reported value.
	Decode(v any) (any, error)
}

// Passes values through unchanged.
type identityCodec struct{}

func (identityCodec) Encode(v any) (any, error) { return v, nil }
func (identityCodec) Decode(v any) (any, error) { return v, nil }

// Maps a numeric index onto one of the configured values.
type choicesCodec struct {
	values []any
}

func (c choicesCodec) Encode(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		// Non-numeric values may name an entry directly.
		for _, candidate := range c.values {
			if sameValue(candidate, v) {
				return candidate, nil
			}
		}
		return nil, fault.Input("value %v is not one of %v", v, c.values)
	}
	if f != math.Trunc(f) || f < 0 || int(f) >= len(c.values) {
		return nil, fault.Input("index %v is out of range for %v", v, c.values)
	}
	return c.values[int(f)], nil
}

func (c choicesCodec) Decode(v any) (any, error) {
	for i, candidate := range c.values {
		if sameValue(candidate, v) {
			return i, nil
		}
	}
	return nil, fault.Config("value %v is not one of the configured values %v", v, c.values)
}

// Multiplies on the way in and divides on the way out.
type scaleCodec struct {
	factor float64
}

func (c scaleCodec) Encode(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fault.Input("value %v is not a number", v)
	}
	return f * c.factor, nil
}

func (c scaleCodec) Decode(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fault.Config("value %v in the pipeline definition is not a number", v)
	}
	return f / c.factor, nil
}

// NewCodec returns the codec configured for a setting. Settings without a
// codec pass values through.
func NewCodec(setting conf.SettingConfig) (Codec, error) {
	if setting.Codec == nil {
		return identityCodec{}, nil
	}
	switch setting.Codec.Name {
	case conf.CodecChoices:
		if len(setting.Values) == 0 {
			return nil, fault.Config("codec %s needs values", setting.Codec.Name)
		}
		return choicesCodec{values: setting.Values}, nil
	case conf.CodecScale:
		if setting.Codec.Factor == 0 {
			return nil, fault.Config("codec %s needs a non-zero factor", setting.Codec.Name)
		}
		return scaleCodec{factor: setting.Codec.Factor}, nil
	default:
		return nil, fault.Config("unknown codec %q", setting.Codec.Name)
	}
}

// ToInteger coerces a number or numeric string to an int64, rounding to the
// nearest integer.
func ToInteger(v any) (int64, error) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fault.Input("value %q is not an integer", s)
		}
		v = f
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fault.Input("value %v is not an integer", v)
	}
	return int64(math.Round(f)), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func sameValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA || okB {
		return okA && okB && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
