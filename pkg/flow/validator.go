package flow

import (
	"fmt"

	"github.com/approvia/approvia/pkg/models"
)

// Validator checks that a flow graph is structurally sound for execution.
// It runs before the DRAFT → PUBLISHED transition; a running instance never
// sees an invalid graph.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate enforces the graph invariants:
//   - exactly one START node flagged is_first, with no incoming edges
//   - at least one END node flagged is_final, with no outgoing edges
//   - node ids unique, every edge references known nodes
//   - every non-START node has an incoming edge and is reachable from START
//   - every non-END node has an outgoing edge
//   - the forward graph is acyclic (RETURN jumps are the only legal cycle and
//     they are runtime actions, not edges)
//   - APPROVAL nodes declare an approval type and at least one assignee
func (v *Validator) Validate(flow *models.Flow) error {
	nodes := make(map[string]*models.FlowNode, len(flow.Nodes))

	for _, node := range flow.Nodes {
		if _, exists := nodes[node.ID]; exists {
			return &ValidationError{Code: CodeDuplicateNodeID, NodeID: node.ID, Detail: "node id appears more than once"}
		}

		nodes[node.ID] = node
	}

	start, err := v.findStart(flow, nodes)
	if err != nil {
		return err
	}

	if err := v.checkEndNodes(flow); err != nil {
		return err
	}

	for _, line := range flow.Lines {
		if _, ok := nodes[line.FromNodeID]; !ok {
			return &ValidationError{Code: CodeDanglingEdge, NodeID: line.FromNodeID, Detail: "edge references unknown source node"}
		}

		if _, ok := nodes[line.ToNodeID]; !ok {
			return &ValidationError{Code: CodeDanglingEdge, NodeID: line.ToNodeID, Detail: "edge references unknown target node"}
		}
	}

	if err := v.checkDegrees(flow, nodes); err != nil {
		return err
	}

	if err := v.checkReachability(flow, nodes, start); err != nil {
		return err
	}

	if err := v.checkAcyclic(flow, nodes); err != nil {
		return err
	}

	for _, node := range flow.Nodes {
		if node.Type != models.NodeTypeApproval {
			continue
		}

		if node.ApprovalType == "" || len(node.AssigneeIDs) == 0 {
			return &ValidationError{
				Code:   CodeInvalidApprovalNode,
				NodeID: node.ID,
				Detail: "approval node needs an approval type and at least one assignee",
			}
		}
	}

	return nil
}

func (v *Validator) findStart(flow *models.Flow, nodes map[string]*models.FlowNode) (*models.FlowNode, error) {
	var start *models.FlowNode

	for _, node := range flow.Nodes {
		if node.Type != models.NodeTypeStart && !node.IsFirst {
			continue
		}

		if node.Type != models.NodeTypeStart || !node.IsFirst {
			return nil, &ValidationError{Code: CodeMissingStart, NodeID: node.ID, Detail: "is_first and START type must coincide"}
		}

		if start != nil {
			return nil, &ValidationError{Code: CodeMissingStart, NodeID: node.ID, Detail: "more than one start node"}
		}

		start = node
	}

	if start == nil {
		return nil, &ValidationError{Code: CodeMissingStart, Detail: "graph has no start node"}
	}

	if len(flow.IncomingLines(start.ID)) > 0 {
		return nil, &ValidationError{Code: CodeMissingStart, NodeID: start.ID, Detail: "start node has incoming edges"}
	}

	return start, nil
}

func (v *Validator) checkEndNodes(flow *models.Flow) error {
	hasEnd := false

	for _, node := range flow.Nodes {
		if node.Type != models.NodeTypeEnd {
			continue
		}

		hasEnd = hasEnd || node.IsFinal

		if len(flow.OutgoingLines(node.ID)) > 0 {
			return &ValidationError{Code: CodeMissingEnd, NodeID: node.ID, Detail: "end node has outgoing edges"}
		}
	}

	if !hasEnd {
		return &ValidationError{Code: CodeMissingEnd, Detail: "graph has no final end node"}
	}

	return nil
}

func (v *Validator) checkDegrees(flow *models.Flow, nodes map[string]*models.FlowNode) error {
	for id, node := range nodes {
		if node.Type != models.NodeTypeStart && len(flow.IncomingLines(id)) == 0 {
			return &ValidationError{Code: CodeMissingIncoming, NodeID: id, Detail: "non-start node has no incoming edge"}
		}

		if node.Type != models.NodeTypeEnd && len(flow.OutgoingLines(id)) == 0 {
			return &ValidationError{Code: CodeMissingOutgoing, NodeID: id, Detail: "non-end node has no outgoing edge"}
		}
	}

	return nil
}

func (v *Validator) checkReachability(flow *models.Flow, nodes map[string]*models.FlowNode, start *models.FlowNode) error {
	visited := make(map[string]bool, len(nodes))
	queue := []string{start.ID}
	visited[start.ID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, line := range flow.OutgoingLines(current) {
			if !visited[line.ToNodeID] {
				visited[line.ToNodeID] = true
				queue = append(queue, line.ToNodeID)
			}
		}
	}

	for id := range nodes {
		if !visited[id] {
			return &ValidationError{Code: CodeUnreachableNode, NodeID: id, Detail: "node unreachable from start"}
		}
	}

	return nil
}

// checkAcyclic rejects forward cycles with a DFS three-color walk.
func (v *Validator) checkAcyclic(flow *models.Flow, nodes map[string]*models.FlowNode) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(nodes))

	var visit func(id string) error

	visit = func(id string) error {
		colors[id] = gray

		for _, line := range flow.OutgoingLines(id) {
			switch colors[line.ToNodeID] {
			case gray:
				return &ValidationError{
					Code:   CodeForwardCycle,
					NodeID: line.ToNodeID,
					Detail: fmt.Sprintf("forward cycle via edge %s -> %s", id, line.ToNodeID),
				}
			case white:
				if err := visit(line.ToNodeID); err != nil {
					return err
				}
			}
		}

		colors[id] = black

		return nil
	}

	for id := range nodes {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}
