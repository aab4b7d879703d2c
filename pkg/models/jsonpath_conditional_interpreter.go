package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// JSONPathConditionalInterpreter evaluates expressions of the form
//
//	$.amount > 10000
//	$.department == "finance"
//	$.needs_review
//
// against the instance's form data. A bare jsonpath is truthy when the value
// it resolves to is truthy; a missing path is falsy, not an error, so a flow
// can branch on optional form fields.
type JSONPathConditionalInterpreter struct{}

var comparisonOperators = []string{"==", "!=", ">=", "<=", ">", "<"}

func (j *JSONPathConditionalInterpreter) Evaluate(expression string, formData map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}

	path, op, literal := splitComparison(expression)

	value, err := jsonpath.JsonPathLookup(map[string]any(formData), path)
	if err != nil {
		// Missing field: a comparison against it is false rather than a
		// runtime failure.
		return false, nil
	}

	if op == "" {
		return truthy(value), nil
	}

	return compare(value, op, literal)
}

// splitComparison separates "<jsonpath> <op> <literal>". Operators are
// matched longest-first so ">=" is not misread as ">".
func splitComparison(expression string) (path, op, literal string) {
	for _, candidate := range comparisonOperators {
		if idx := strings.Index(expression, candidate); idx > 0 {
			path = strings.TrimSpace(expression[:idx])
			literal = strings.TrimSpace(expression[idx+len(candidate):])

			return path, candidate, literal
		}
	}

	return expression, "", ""
}

func compare(value any, op, literal string) (bool, error) {
	literal = strings.Trim(literal, `"'`)

	if lv, lok := toFloat(literal); lok {
		if vv, vok := toFloat(value); vok {
			return compareFloats(vv, op, lv)
		}
	}

	if bv, err := strconv.ParseBool(literal); err == nil {
		if actual, ok := value.(bool); ok {
			switch op {
			case "==":
				return actual == bv, nil
			case "!=":
				return actual != bv, nil
			default:
				return false, fmt.Errorf("operator %q is not defined for booleans", op)
			}
		}
	}

	actual := fmt.Sprintf("%v", value)

	switch op {
	case "==":
		return actual == literal, nil
	case "!=":
		return actual != literal, nil
	default:
		return false, fmt.Errorf("operator %q is not defined for strings", op)
	}
}

func compareFloats(actual float64, op string, expected float64) (bool, error) {
	switch op {
	case "==":
		return actual == expected, nil
	case "!=":
		return actual != expected, nil
	case ">":
		return actual > expected, nil
	case ">=":
		return actual >= expected, nil
	case "<":
		return actual < expected, nil
	case "<=":
		return actual <= expected, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}
