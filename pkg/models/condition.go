package models

// Conditional evaluates a line's condition expression against an instance's
// form data.
type Conditional interface {
	Evaluate(expression string, formData map[string]any) (bool, error)
}

// ConditionLanguage selects the interpreter used for line conditions.
type ConditionLanguage string

const (
	ConditionLanguageSimple   ConditionLanguage = "simple"
	ConditionLanguageJSONPath ConditionLanguage = "jsonpath"
)

// GetConditional returns the interpreter for a condition language. Unknown
// languages fall back to the jsonpath interpreter, which is what flow
// designers write in practice.
func GetConditional(language ConditionLanguage) Conditional {
	if language == ConditionLanguageSimple {
		return &SimpleConditionalInterpreter{}
	}

	return &JSONPathConditionalInterpreter{}
}
