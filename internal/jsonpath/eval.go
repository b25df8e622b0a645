// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package jsonpath

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

// Location is the concrete position of a match, a sequence of mapping keys
// (string) and sequence indexes (int).
type Location []any

func (l Location) child(key any) Location {
	out := make(Location, len(l), len(l)+1)
	copy(out, l)
	return append(out, key)
}

// String renders the location as a concrete JSONPath, e.g. "$.stages[0].name".
func (l Location) String() string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, key := range l {
		switch k := key.(type) {
		case int:
			sb.WriteString("[" + strconv.Itoa(k) + "]")
		default:
			fmt.Fprintf(&sb, ".%v", k)
		}
	}
	return sb.String()
}

// Match is one location selected by a path, together with its value.
type Match struct {
	Location Location
	Value    any

	// Replaces the value in the parent container. Nil for the root.
	set func(any)
}

// Find returns all matches of the path in document order. Mapping values
// reached by a wildcard are visited in key order. A path without matches
// yields a *fault.PathNotFoundError.
func (p *Path) Find(doc any) ([]Match, error) {
	matches := p.eval(doc)
	if len(matches) == 0 {
		return nil, &fault.PathNotFoundError{Expr: p.expr}
	}
	return matches, nil
}

// Update replaces the value at every location matched by the path and
// returns the number of replaced locations. The document is modified in
// place; callers that need the original must pass a DeepCopy. A path
// without matches yields a *fault.PathNotFoundError.
func (p *Path) Update(doc, value any) (int, error) {
	matches, err := p.Find(doc)
	if err != nil {
		return 0, err
	}
	for _, m := range matches {
		// Each location gets its own copy so later writes don't alias.
		m.set(DeepCopy(value))
	}
	return len(matches), nil
}

// Find compiles expr and returns its matches in doc.
func Find(doc any, expr string) ([]Match, error) {
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return p.Find(doc)
}

// Update compiles expr and replaces all its matches in doc with value.
func Update(doc any, expr string, value any) (int, error) {
	p, err := Compile(expr)
	if err != nil {
		return 0, err
	}
	return p.Update(doc, value)
}

func (p *Path) eval(doc any) []Match {
	current := []Match{{Value: doc}}
	for _, s := range p.steps {
		var next []Match
		for _, m := range current {
			next = s.expand(m, next)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

func (s step) expand(m Match, out []Match) []Match {
	switch s.kind {
	case stepField:
		obj, ok := m.Value.(map[string]any)
		if !ok {
			return out
		}
		if v, ok := obj[s.field]; ok {
			out = append(out, mapEntry(m.Location, obj, s.field, v))
		}
	case stepIndex:
		arr, ok := m.Value.([]any)
		if !ok {
			return out
		}
		i := s.index
		if i < 0 {
			i += len(arr)
		}
		if i >= 0 && i < len(arr) {
			out = append(out, sliceEntry(m.Location, arr, i))
		}
	case stepWildcard:
		switch container := m.Value.(type) {
		case []any:
			for i := range container {
				out = append(out, sliceEntry(m.Location, container, i))
			}
		case map[string]any:
			keys := make([]string, 0, len(container))
			for k := range container {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				out = append(out, mapEntry(m.Location, container, k, container[k]))
			}
		}
	case stepFilter:
		arr, ok := m.Value.([]any)
		if !ok {
			return out
		}
		for i, elem := range arr {
			v, ok := lookup(elem, s.filterFields)
			if ok && equalScalar(v, s.literal) {
				out = append(out, sliceEntry(m.Location, arr, i))
			}
		}
	}
	return out
}

func mapEntry(parent Location, obj map[string]any, key string, v any) Match {
	return Match{
		Location: parent.child(key),
		Value:    v,
		set:      func(nv any) { obj[key] = nv },
	}
}

func sliceEntry(parent Location, arr []any, i int) Match {
	return Match{
		Location: parent.child(i),
		Value:    arr[i],
		set:      func(nv any) { arr[i] = nv },
	}
}

func lookup(v any, fields []string) (any, bool) {
	for _, f := range fields {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok = obj[f]; !ok {
			return nil, false
		}
	}
	return v, true
}

// Compare scalars the way they appear after json decoding. Numbers of
// different Go types compare by value.
func equalScalar(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
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

// DeepCopy returns a copy of a decoded JSON document that shares no
// mappings or sequences with the original.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return val
	}
}
