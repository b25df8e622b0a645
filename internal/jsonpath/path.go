// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package jsonpath finds and rewrites values inside decoded JSON documents.
//
// Expressions use the kubectl JSONPath syntax, e.g.
//
//	{.stages[*].clusters[?(@.stack=='web')].capacity.desired}
//
// The expression is parsed once with the client-go JSONPath parser and
// compiled into a flat sequence of steps. Only the subset needed to address
// locations is supported: field access, index access, wildcards and equality
// filters on sequence elements. Documents are the values produced by
// encoding/json: map[string]any, []any and scalars.
package jsonpath

import (
	"fmt"
	"strings"

	"k8s.io/client-go/util/jsonpath"

	"github.com/cobaltcore-dev/pipeline-adjust/internal/fault"
)

type stepKind int

const (
	// Descend into a named field of a mapping.
	stepField stepKind = iota
	// Select one element of a sequence.
	stepIndex
	// Fan out over all elements of a sequence or all values of a mapping.
	stepWildcard
	// Keep the sequence elements whose field equals a literal.
	stepFilter
)

type step struct {
	kind stepKind
	// Field name for stepField.
	field string
	// Element index for stepIndex, negative values count from the end.
	index int
	// Field chain evaluated on each element for stepFilter.
	filterFields []string
	// Literal compared against for stepFilter.
	literal any
}

func (s step) String() string {
	switch s.kind {
	case stepField:
		return "." + s.field
	case stepIndex:
		return fmt.Sprintf("[%d]", s.index)
	case stepWildcard:
		return "[*]"
	case stepFilter:
		return fmt.Sprintf("[?(@.%s==%v)]", strings.Join(s.filterFields, "."), s.literal)
	}
	return "?"
}

// Path is a compiled path expression. It holds no state and can be reused
// across documents.
type Path struct {
	expr  string
	steps []step
}

// String returns the expression the path was compiled from.
func (p *Path) String() string { return p.expr }

// Compile parses a path expression. The surrounding braces are optional,
// "stages[*].name" and "{.stages[*].name}" are equivalent.
func Compile(expr string) (*Path, error) {
	text := normalize(expr)
	parser, err := jsonpath.Parse("path", text)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "invalid path expression %q", expr)
	}
	if len(parser.Root.Nodes) != 1 {
		return nil, fault.Config("path expression %q must contain exactly one action", expr)
	}
	action, ok := parser.Root.Nodes[0].(*jsonpath.ListNode)
	if !ok {
		return nil, fault.Config("path expression %q must contain exactly one action", expr)
	}
	steps, err := compileNodes(expr, action.Nodes)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fault.Config("path expression %q does not select anything below the root", expr)
	}
	return &Path{expr: expr, steps: steps}, nil
}

func normalize(expr string) string {
	text := strings.TrimSpace(expr)
	if strings.HasPrefix(text, "{") {
		return text
	}
	if strings.HasPrefix(text, "$") || strings.HasPrefix(text, ".") || strings.HasPrefix(text, "[") {
		return "{" + text + "}"
	}
	return "{." + text + "}"
}

func compileNodes(expr string, nodes []jsonpath.Node) ([]step, error) {
	var steps []step
	for _, node := range nodes {
		switch n := node.(type) {
		case *jsonpath.FieldNode:
			// "$" and "." alone parse into empty fields.
			if n.Value == "" {
				continue
			}
			steps = append(steps, step{kind: stepField, field: n.Value})
		case *jsonpath.WildcardNode:
			steps = append(steps, step{kind: stepWildcard})
		case *jsonpath.ArrayNode:
			s, err := compileArray(expr, n)
			if err != nil {
				return nil, err
			}
			steps = append(steps, s)
		case *jsonpath.FilterNode:
			s, err := compileFilter(expr, n)
			if err != nil {
				return nil, err
			}
			steps = append(steps, s)
		default:
			return nil, fault.Config("unsupported element %q in path expression %q", node.String(), expr)
		}
	}
	return steps, nil
}

func compileArray(expr string, n *jsonpath.ArrayNode) (step, error) {
	start, end, stride := n.Params[0], n.Params[1], n.Params[2]
	if !start.Known && !end.Known && !stride.Known {
		return step{kind: stepWildcard}, nil
	}
	if start.Known && end.Known && end.Value == start.Value+1 && !stride.Known {
		return step{kind: stepIndex, index: start.Value}, nil
	}
	return step{}, fault.Config("slices are not supported in path expression %q", expr)
}

func compileFilter(expr string, n *jsonpath.FilterNode) (step, error) {
	if n.Operator != "==" {
		return step{}, fault.Config(
			"only equality filters are supported, got %q in path expression %q", n.Operator, expr,
		)
	}
	var fields []string
	for _, node := range n.Left.Nodes {
		field, ok := node.(*jsonpath.FieldNode)
		if !ok {
			return step{}, fault.Config("filter in path expression %q must compare a field of @", expr)
		}
		if field.Value != "" {
			fields = append(fields, field.Value)
		}
	}
	if len(fields) == 0 {
		return step{}, fault.Config("filter in path expression %q must compare a field of @", expr)
	}
	if n.Right == nil || len(n.Right.Nodes) != 1 {
		return step{}, fault.Config("filter in path expression %q must compare against one literal", expr)
	}
	var literal any
	switch lit := n.Right.Nodes[0].(type) {
	case *jsonpath.TextNode:
		literal = lit.Text
	case *jsonpath.IntNode:
		literal = float64(lit.Value)
	case *jsonpath.FloatNode:
		literal = lit.Value
	case *jsonpath.BoolNode:
		literal = lit.Value
	default:
		return step{}, fault.Config("filter in path expression %q must compare against a literal", expr)
	}
	return step{kind: stepFilter, filterFields: fields, literal: literal}, nil
}
