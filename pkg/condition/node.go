// Package condition models rule predicate trees as a tagged sum type and
// validates them against the active field catalog. Two wire shapes are
// accepted on input; the canonical artifact always carries the keyword
// shape.
package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cardshield/rulegov/pkg/domain"
)

// Node is one predicate. Exactly one of the four arms is set.
type Node struct {
	And  []*Node
	Or   []*Node
	Not  *Node
	Leaf *Leaf
}

// Leaf is a single field comparison. Value holds a scalar (string, bool,
// json.Number) or a []any of scalars for multi-value operators.
type Leaf struct {
	Field string
	Op    domain.Operator
	Value any
}

// Parse decodes a raw predicate document into a Node. Both recognized wire
// shapes are accepted:
//
//	keyword: {"and":[...]} {"or":[...]} {"not":{...}} {"field":...,"op":...,"value":...}
//	typed:   {"type":"AND","conditions":[...]} {"type":"NOT","condition":{...}}
//	         {"type":"CONDITION","field":...,"operator":...,"value":...}
//
// Numbers are preserved as json.Number so later canonicalization never
// converts through float64. Errors carry the JSONPath of the offending
// node.
func Parse(raw []byte) (*Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domain.Validationf("condition tree is empty").WithDetail("path", "$")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, domain.Validationf("condition tree is not valid JSON: %v", err).WithDetail("path", "$")
	}
	return parseNode(generic, "$")
}

func parseNode(v any, path string) (*Node, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nodeErrf(path, "expected an object, got %s", jsonTypeName(v))
	}
	if _, typed := obj["type"]; typed {
		return parseTyped(obj, path)
	}
	return parseKeyword(obj, path)
}

func parseKeyword(obj map[string]any, path string) (*Node, error) {
	switch {
	case obj["and"] != nil:
		children, err := parseList(obj["and"], path+".and")
		if err != nil {
			return nil, err
		}
		return &Node{And: children}, nil
	case obj["or"] != nil:
		children, err := parseList(obj["or"], path+".or")
		if err != nil {
			return nil, err
		}
		return &Node{Or: children}, nil
	case obj["not"] != nil:
		child, err := parseNode(obj["not"], path+".not")
		if err != nil {
			return nil, err
		}
		return &Node{Not: child}, nil
	case obj["field"] != nil:
		return parseLeaf(obj, "op", path)
	}
	return nil, nodeErrf(path, "object has none of the keys %q", keysOf(obj))
}

func parseTyped(obj map[string]any, path string) (*Node, error) {
	kind, _ := obj["type"].(string)
	switch kind {
	case "AND", "OR":
		children, err := parseList(obj["conditions"], path+".conditions")
		if err != nil {
			return nil, err
		}
		if kind == "AND" {
			return &Node{And: children}, nil
		}
		return &Node{Or: children}, nil
	case "NOT":
		if obj["condition"] == nil {
			return nil, nodeErrf(path, "NOT node is missing \"condition\"")
		}
		child, err := parseNode(obj["condition"], path+".condition")
		if err != nil {
			return nil, err
		}
		return &Node{Not: child}, nil
	case "CONDITION":
		return parseLeaf(obj, "operator", path)
	}
	return nil, nodeErrf(path, "unknown node type %q", kind)
}

func parseList(v any, path string) ([]*Node, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, nodeErrf(path, "expected an array, got %s", jsonTypeName(v))
	}
	if len(list) == 0 {
		return nil, nodeErrf(path, "composite node requires at least one child")
	}
	children := make([]*Node, len(list))
	for i, elem := range list {
		child, err := parseNode(elem, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	return children, nil
}

func parseLeaf(obj map[string]any, opKey, path string) (*Node, error) {
	field, ok := obj["field"].(string)
	if !ok || field == "" {
		return nil, nodeErrf(path, "leaf requires a non-empty \"field\" string")
	}
	opRaw, ok := obj[opKey].(string)
	if !ok {
		return nil, nodeErrf(path, "leaf requires %q as a string", opKey)
	}
	op, err := domain.ParseOperator(opRaw)
	if err != nil {
		return nil, nodeErrf(path, "%v", err).WithDetail("field_key", field)
	}
	value, present := obj["value"]
	if !present {
		return nil, nodeErrf(path, "leaf requires a \"value\"").WithDetail("field_key", field)
	}
	return &Node{Leaf: &Leaf{Field: field, Op: op, Value: value}}, nil
}

// MarshalJSON emits the keyword wire shape, which is the form carried in
// compiled artifacts.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.And != nil:
		return json.Marshal(map[string]any{"and": n.And})
	case n.Or != nil:
		return json.Marshal(map[string]any{"or": n.Or})
	case n.Not != nil:
		return json.Marshal(map[string]any{"not": n.Not})
	case n.Leaf != nil:
		return json.Marshal(map[string]any{
			"field": n.Leaf.Field,
			"op":    n.Leaf.Op,
			"value": n.Leaf.Value,
		})
	}
	return nil, fmt.Errorf("condition: node has no arm set")
}

// UnmarshalJSON accepts either wire shape.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// Fields returns the distinct field keys referenced anywhere in the tree,
// sorted.
func (n *Node) Fields() []string {
	seen := map[string]struct{}{}
	n.walk(func(leaf *Leaf) {
		seen[leaf.Field] = struct{}{}
	})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (n *Node) walk(fn func(*Leaf)) {
	switch {
	case n.And != nil:
		for _, c := range n.And {
			c.walk(fn)
		}
	case n.Or != nil:
		for _, c := range n.Or {
			c.walk(fn)
		}
	case n.Not != nil:
		n.Not.walk(fn)
	case n.Leaf != nil:
		fn(n.Leaf)
	}
}

func nodeErrf(path, format string, args ...any) *domain.Error {
	return domain.Validationf(format, args...).WithDetail("path", path)
}

func keysOf(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
