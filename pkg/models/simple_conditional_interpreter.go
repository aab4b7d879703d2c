package models

import (
	"fmt"
	"strconv"
)

// SimpleConditionalInterpreter treats the expression itself as a literal
// truth value. An empty expression is always eligible.
type SimpleConditionalInterpreter struct{}

func (s *SimpleConditionalInterpreter) Evaluate(expression string, _ map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	result, err := strconv.ParseBool(expression)
	if err != nil {
		return false, fmt.Errorf("cannot convert %q to boolean: %w", expression, err)
	}

	return result, nil
}
