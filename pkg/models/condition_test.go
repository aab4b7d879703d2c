package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleConditionalInterpreter(t *testing.T) {
	interp := &SimpleConditionalInterpreter{}

	result, err := interp.Evaluate("", nil)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = interp.Evaluate("true", nil)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = interp.Evaluate("false", nil)
	require.NoError(t, err)
	assert.False(t, result)

	_, err = interp.Evaluate("not-a-bool", nil)
	assert.Error(t, err)
}

func TestJSONPathConditionalInterpreter_Comparisons(t *testing.T) {
	interp := &JSONPathConditionalInterpreter{}
	formData := map[string]any{
		"amount":     float64(15000),
		"department": "finance",
		"approved":   true,
		"days":       3,
	}

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{"greater than true", "$.amount > 10000", true},
		{"greater than false", "$.amount > 20000", false},
		{"greater or equal", "$.amount >= 15000", true},
		{"less than", "$.days < 5", true},
		{"numeric equality", "$.days == 3", true},
		{"string equality", `$.department == "finance"`, true},
		{"string inequality", `$.department != "hr"`, true},
		{"boolean equality", "$.approved == true", true},
		{"bare path truthy", "$.approved", true},
		{"missing field is falsy", "$.missing > 100", false},
		{"empty expression always eligible", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interp.Evaluate(tt.expression, formData)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONPathConditionalInterpreter_OrderedOperatorMatch(t *testing.T) {
	interp := &JSONPathConditionalInterpreter{}

	// ">=" must not be parsed as ">" followed by "=15000".
	got, err := interp.Evaluate("$.amount >= 15000", map[string]any{"amount": 15000})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestGetConditional(t *testing.T) {
	assert.IsType(t, &SimpleConditionalInterpreter{}, GetConditional(ConditionLanguageSimple))
	assert.IsType(t, &JSONPathConditionalInterpreter{}, GetConditional(ConditionLanguageJSONPath))
	assert.IsType(t, &JSONPathConditionalInterpreter{}, GetConditional("unknown"))
}

func TestStep_Counts(t *testing.T) {
	counted := []StepStatus{StepStatusPending, StepStatusApproved, StepStatusRejected}
	for _, status := range counted {
		assert.True(t, (&Step{Status: status}).Counts(), string(status))
	}

	excluded := []StepStatus{StepStatusDelegated, StepStatusCancelled, StepStatusReturned}
	for _, status := range excluded {
		assert.False(t, (&Step{Status: status}).Counts(), string(status))
	}
}

func TestInstance_CurrentNodeSet(t *testing.T) {
	instance := &Instance{CurrentNodeIDs: []string{"a", "b"}}

	assert.True(t, instance.AtNode("a"))
	assert.False(t, instance.AtNode("c"))

	instance.AddCurrentNode("c")
	instance.AddCurrentNode("c")
	assert.Equal(t, []string{"a", "b", "c"}, instance.CurrentNodeIDs)

	instance.RemoveCurrentNode("b")
	assert.Equal(t, []string{"a", "c"}, instance.CurrentNodeIDs)
}

func TestFlow_Lookups(t *testing.T) {
	flow := &Flow{
		Nodes: []*FlowNode{
			{ID: "start", Type: NodeTypeStart, IsFirst: true},
			{ID: "review", Type: NodeTypeApproval},
			{ID: "end", Type: NodeTypeEnd, IsFinal: true},
		},
		Lines: []*FlowLine{
			{FromNodeID: "start", ToNodeID: "review"},
			{FromNodeID: "review", ToNodeID: "end"},
		},
	}

	assert.Equal(t, "start", flow.StartNode().ID)
	assert.Equal(t, NodeTypeApproval, flow.NodeByID("review").Type)
	assert.Nil(t, flow.NodeByID("missing"))
	assert.Len(t, flow.OutgoingLines("start"), 1)
	assert.Len(t, flow.IncomingLines("end"), 1)
	assert.Empty(t, flow.OutgoingLines("end"))
}
