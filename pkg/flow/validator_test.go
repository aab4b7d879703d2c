package flow_test

import (
	"errors"
	"testing"

	"github.com/approvia/approvia/pkg/flow"
	"github.com/approvia/approvia/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, nodeType models.NodeType) *models.FlowNode {
	n := &models.FlowNode{ID: id, Name: id, Type: nodeType}

	switch nodeType {
	case models.NodeTypeStart:
		n.IsFirst = true
	case models.NodeTypeEnd:
		n.IsFinal = true
	case models.NodeTypeApproval:
		n.ApprovalType = models.ApprovalTypeSingle
		n.AssigneeIDs = []int64{100}
	}

	return n
}

func edge(from, to string) *models.FlowLine {
	return &models.FlowLine{ID: from + "->" + to, FromNodeID: from, ToNodeID: to}
}

func validFlow() *models.Flow {
	return &models.Flow{
		Name: "leave request",
		Nodes: []*models.FlowNode{
			node("start", models.NodeTypeStart),
			node("a1", models.NodeTypeApproval),
			node("end", models.NodeTypeEnd),
		},
		Lines: []*models.FlowLine{edge("start", "a1"), edge("a1", "end")},
	}
}

func validationCode(t *testing.T, err error) string {
	t.Helper()

	var ve *flow.ValidationError

	require.ErrorAs(t, err, &ve)

	return ve.Code
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	require.NoError(t, flow.NewValidator().Validate(validFlow()))
}

func TestValidateAcceptsParallelBranches(t *testing.T) {
	f := &models.Flow{
		Name: "purchase",
		Nodes: []*models.FlowNode{
			node("start", models.NodeTypeStart),
			node("legal", models.NodeTypeApproval),
			node("finance", models.NodeTypeApproval),
			node("end", models.NodeTypeEnd),
		},
		Lines: []*models.FlowLine{
			edge("start", "legal"),
			edge("start", "finance"),
			edge("legal", "end"),
			edge("finance", "end"),
		},
	}

	require.NoError(t, flow.NewValidator().Validate(f))
}

func TestValidateRejectsBrokenGraphs(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(f *models.Flow)
		wantCode string
	}{
		{
			name: "no start node",
			mutate: func(f *models.Flow) {
				f.Nodes = f.Nodes[1:]
				f.Lines = f.Lines[1:]
			},
			wantCode: flow.CodeMissingStart,
		},
		{
			name: "two start nodes",
			mutate: func(f *models.Flow) {
				second := node("start2", models.NodeTypeStart)
				f.Nodes = append(f.Nodes, second)
				f.Lines = append(f.Lines, edge("start2", "a1"))
			},
			wantCode: flow.CodeMissingStart,
		},
		{
			name: "start with incoming edge",
			mutate: func(f *models.Flow) {
				f.Lines = append(f.Lines, edge("a1", "start"))
			},
			wantCode: flow.CodeMissingStart,
		},
		{
			name: "no end node",
			mutate: func(f *models.Flow) {
				f.Nodes = f.Nodes[:2]
				f.Lines = f.Lines[:1]
			},
			wantCode: flow.CodeMissingEnd,
		},
		{
			name: "end with outgoing edge",
			mutate: func(f *models.Flow) {
				f.Lines = append(f.Lines, edge("end", "a1"))
			},
			wantCode: flow.CodeMissingEnd,
		},
		{
			name: "duplicate node id",
			mutate: func(f *models.Flow) {
				f.Nodes = append(f.Nodes, node("a1", models.NodeTypeApproval))
			},
			wantCode: flow.CodeDuplicateNodeID,
		},
		{
			name: "edge to unknown node",
			mutate: func(f *models.Flow) {
				f.Lines = append(f.Lines, edge("a1", "ghost"))
			},
			wantCode: flow.CodeDanglingEdge,
		},
		{
			name: "unreachable island",
			mutate: func(f *models.Flow) {
				f.Nodes = append(f.Nodes,
					node("b1", models.NodeTypeApproval),
					node("b2", models.NodeTypeApproval),
				)
				// b1 and b2 feed each other but nothing connects them to start.
				f.Lines = append(f.Lines, edge("b1", "b2"), edge("b2", "b1"))
			},
			wantCode: flow.CodeUnreachableNode,
		},
		{
			name: "approval without outgoing edge",
			mutate: func(f *models.Flow) {
				f.Nodes = append(f.Nodes, node("a2", models.NodeTypeApproval))
				f.Lines = append(f.Lines, edge("a1", "a2"))
			},
			wantCode: flow.CodeMissingOutgoing,
		},
		{
			name: "forward cycle",
			mutate: func(f *models.Flow) {
				f.Nodes = append(f.Nodes, node("a2", models.NodeTypeApproval))
				f.Lines = append(f.Lines, edge("a1", "a2"), edge("a2", "a1"), edge("a2", "end"))
			},
			wantCode: flow.CodeForwardCycle,
		},
		{
			name: "approval node without assignees",
			mutate: func(f *models.Flow) {
				f.Nodes[1].AssigneeIDs = nil
			},
			wantCode: flow.CodeInvalidApprovalNode,
		},
		{
			name: "approval node without approval type",
			mutate: func(f *models.Flow) {
				f.Nodes[1].ApprovalType = ""
			},
			wantCode: flow.CodeInvalidApprovalNode,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFlow()
			tc.mutate(f)

			err := flow.NewValidator().Validate(f)
			require.Error(t, err)
			assert.True(t, flow.IsValidationError(err))
			assert.Equal(t, tc.wantCode, validationCode(t, err))
		})
	}
}

func TestIsValidationErrorIgnoresOtherErrors(t *testing.T) {
	assert.False(t, flow.IsValidationError(errors.New("boom")))
	assert.False(t, flow.IsValidationError(flow.ErrAlreadyPublished))
}
