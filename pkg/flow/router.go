package flow

import (
	"fmt"
	"sort"

	"github.com/approvia/approvia/pkg/models"
)

// Router evaluates outgoing lines against form data to decide where an
// instance goes next.
type Router struct {
	conditional models.Conditional
}

func NewRouter() *Router {
	return &Router{conditional: models.GetConditional(models.ConditionLanguageJSONPath)}
}

// NextNodes returns the targets eligible from fromNodeID, in priority order.
//
// Unconditioned lines are always eligible, so several of them fan out to
// parallel branches. Lines that carry conditions form an exclusive group:
// they are evaluated in priority order and only the first truthy one is
// taken.
func (r *Router) NextNodes(flow *models.Flow, fromNodeID string, formData map[string]any) ([]string, error) {
	lines := flow.OutgoingLines(fromNodeID)
	if len(lines) == 0 {
		return nil, fmt.Errorf("node %s: %w", fromNodeID, ErrNoEligibleLine)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Priority < lines[j].Priority
	})

	targets := make([]string, 0, len(lines))
	conditionMatched := false

	for _, line := range lines {
		if line.ConditionExpression == "" {
			targets = append(targets, line.ToNodeID)

			continue
		}

		if conditionMatched {
			continue
		}

		eligible, err := r.conditional.Evaluate(line.ConditionExpression, formData)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate condition on line %s -> %s: %w",
				line.FromNodeID, line.ToNodeID, err)
		}

		if eligible {
			targets = append(targets, line.ToNodeID)
			conditionMatched = true
		}
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("node %s: %w", fromNodeID, ErrNoEligibleLine)
	}

	return targets, nil
}
