package condition

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/cardshield/rulegov/pkg/domain"
)

// Validate checks the tree against the active field catalog. Every leaf
// must reference an active field, use an operator the field allows, and
// carry a value conforming to the field's data type and the operator's
// arity. Errors are ValidationErrors with a JSONPath detail.
func Validate(n *Node, catalog map[string]domain.FieldMeta) error {
	return validateNode(n, catalog, "$")
}

func validateNode(n *Node, catalog map[string]domain.FieldMeta, path string) error {
	switch {
	case n.And != nil:
		for i, c := range n.And {
			if err := validateNode(c, catalog, childPath(path, "and", i)); err != nil {
				return err
			}
		}
		return nil
	case n.Or != nil:
		for i, c := range n.Or {
			if err := validateNode(c, catalog, childPath(path, "or", i)); err != nil {
				return err
			}
		}
		return nil
	case n.Not != nil:
		return validateNode(n.Not, catalog, path+".not")
	case n.Leaf != nil:
		return validateLeaf(n.Leaf, catalog, path)
	}
	return nodeErrf(path, "node has no arm set")
}

func childPath(path, arm string, i int) string {
	return path + "." + arm + "[" + strconv.Itoa(i) + "]"
}

func validateLeaf(leaf *Leaf, catalog map[string]domain.FieldMeta, path string) error {
	meta, ok := catalog[leaf.Field]
	if !ok || !meta.IsActive {
		return nodeErrf(path, "field %q is not in the active catalog", leaf.Field).
			WithDetail("field_key", leaf.Field)
	}
	if !meta.AllowsOperator(leaf.Op) {
		return nodeErrf(path, "operator %s is not allowed for field %q", leaf.Op, leaf.Field).
			WithDetail("field_key", leaf.Field).
			WithDetail("operator", string(leaf.Op))
	}

	switch leaf.Op {
	case domain.OpIn, domain.OpNotIn:
		return validateMembershipValue(leaf, meta, path)
	case domain.OpBetween:
		return validateBetweenValue(leaf, meta, path)
	default:
		if _, isList := leaf.Value.([]any); isList {
			return nodeErrf(path, "operator %s requires a scalar value", leaf.Op).
				WithDetail("field_key", leaf.Field).
				WithDetail("operator", string(leaf.Op))
		}
		if err := validateScalar(leaf.Value, meta, path); err != nil {
			return err
		}
		if leaf.Op == domain.OpRegex {
			pattern, _ := leaf.Value.(string)
			if _, err := regexp.Compile(pattern); err != nil {
				return nodeErrf(path, "value is not a valid regular expression: %v", err).
					WithDetail("field_key", leaf.Field).
					WithDetail("operator", string(leaf.Op))
			}
		}
		return nil
	}
}

func validateMembershipValue(leaf *Leaf, meta domain.FieldMeta, path string) error {
	list, ok := leaf.Value.([]any)
	if !ok || len(list) == 0 {
		return nodeErrf(path, "operator %s requires a non-empty array value", leaf.Op).
			WithDetail("field_key", leaf.Field).
			WithDetail("operator", string(leaf.Op))
	}
	if !meta.MultiValueAllowed {
		return nodeErrf(path, "field %q does not allow multi-value operators", leaf.Field).
			WithDetail("field_key", leaf.Field).
			WithDetail("operator", string(leaf.Op))
	}
	for i, elem := range list {
		if err := validateScalar(elem, meta, childPath(path, "value", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateBetweenValue(leaf *Leaf, meta domain.FieldMeta, path string) error {
	list, ok := leaf.Value.([]any)
	if !ok || len(list) != 2 {
		return nodeErrf(path, "BETWEEN requires an array of exactly two values").
			WithDetail("field_key", leaf.Field).
			WithDetail("operator", string(domain.OpBetween))
	}
	for i, elem := range list {
		if err := validateScalar(elem, meta, childPath(path, "value", i)); err != nil {
			return err
		}
	}
	ordered, comparable := boundsOrdered(list[0], list[1], meta.DataType)
	if !comparable {
		return nodeErrf(path, "BETWEEN is not defined for data type %s", meta.DataType).
			WithDetail("field_key", leaf.Field).
			WithDetail("operator", string(domain.OpBetween))
	}
	if !ordered {
		return nodeErrf(path, "BETWEEN bounds are out of order").
			WithDetail("field_key", leaf.Field).
			WithDetail("operator", string(domain.OpBetween))
	}
	return nil
}

// validateScalar checks one scalar value against the field's data type.
func validateScalar(v any, meta domain.FieldMeta, path string) error {
	switch meta.DataType {
	case domain.DataTypeString:
		if _, ok := v.(string); !ok {
			return typeErr(path, meta, "string", v)
		}
	case domain.DataTypeNumber:
		if !isNumber(v) {
			return typeErr(path, meta, "number", v)
		}
	case domain.DataTypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeErr(path, meta, "boolean", v)
		}
	case domain.DataTypeDate:
		s, ok := v.(string)
		if !ok {
			return typeErr(path, meta, "ISO-8601 instant", v)
		}
		if _, err := parseInstant(s); err != nil {
			return nodeErrf(path, "value %q is not an ISO-8601 instant", s).
				WithDetail("field_key", meta.FieldKey)
		}
	case domain.DataTypeEnum:
		s, ok := v.(string)
		if !ok {
			return typeErr(path, meta, "string", v)
		}
		if len(meta.EnumValues) > 0 && !contains(meta.EnumValues, s) {
			return nodeErrf(path, "value %q is not in the enum set for field %q", s, meta.FieldKey).
				WithDetail("field_key", meta.FieldKey)
		}
	default:
		return nodeErrf(path, "field %q has unsupported data type %s", meta.FieldKey, meta.DataType).
			WithDetail("field_key", meta.FieldKey)
	}
	return nil
}

func typeErr(path string, meta domain.FieldMeta, want string, got any) *domain.Error {
	return nodeErrf(path, "field %q requires a %s value, got %s",
		meta.FieldKey, want, jsonTypeName(got)).
		WithDetail("field_key", meta.FieldKey)
}

func isNumber(v any) bool {
	switch v.(type) {
	case json.Number, float64, int, int64:
		return true
	}
	return false
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// parseInstant accepts RFC 3339 with or without fractional seconds.
func parseInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// boundsOrdered reports lo <= hi under the field type's natural order and
// whether the type defines one at all.
func boundsOrdered(lo, hi any, dt domain.DataType) (ordered, comparable bool) {
	switch dt {
	case domain.DataTypeNumber:
		a, okA := numberValue(lo)
		b, okB := numberValue(hi)
		if !okA || !okB {
			return false, true
		}
		return a <= b, true
	case domain.DataTypeDate:
		a, errA := parseInstant(lo.(string))
		b, errB := parseInstant(hi.(string))
		if errA != nil || errB != nil {
			return false, true
		}
		return !b.Before(a), true
	case domain.DataTypeString, domain.DataTypeEnum:
		return lo.(string) <= hi.(string), true
	}
	return false, false
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
