package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/flow"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/google/uuid"
)

// Outcome is the completion-policy verdict for a node's current round.
type Outcome int

const (
	// OutcomePending means the node is still waiting on steps.
	OutcomePending Outcome = iota
	// OutcomeSatisfied means the node's policy is met and it may advance.
	OutcomeSatisfied
	// OutcomeFailed means the node's policy failed and the instance rejects.
	OutcomeFailed
)

type completionPolicy func(steps []*models.Step) Outcome

// completionPolicies keys the satisfaction rule by approval type. Only steps
// that count (latest round, not delegated/cancelled/returned) are passed in.
var completionPolicies = map[models.ApprovalType]completionPolicy{
	models.ApprovalTypeSingle:   singleOutcome,
	models.ApprovalTypeMultiOr:  multiOrOutcome,
	models.ApprovalTypeMultiAnd: multiAndOutcome,
}

func singleOutcome(steps []*models.Step) Outcome {
	for _, s := range steps {
		switch s.Status {
		case models.StepStatusApproved:
			return OutcomeSatisfied
		case models.StepStatusRejected:
			return OutcomeFailed
		}
	}

	return OutcomePending
}

func multiOrOutcome(steps []*models.Step) Outcome {
	rejected := 0

	for _, s := range steps {
		switch s.Status {
		case models.StepStatusApproved:
			return OutcomeSatisfied
		case models.StepStatusRejected:
			rejected++
		}
	}

	if len(steps) > 0 && rejected == len(steps) {
		return OutcomeFailed
	}

	return OutcomePending
}

func multiAndOutcome(steps []*models.Step) Outcome {
	approved := 0

	for _, s := range steps {
		switch s.Status {
		case models.StepStatusRejected:
			return OutcomeFailed
		case models.StepStatusApproved:
			approved++
		}
	}

	if len(steps) > 0 && approved == len(steps) {
		return OutcomeSatisfied
	}

	return OutcomePending
}

// Scheduler materializes steps when nodes activate and moves instances
// forward when a node's completion policy is met. It mutates the instance in
// memory and persists steps as it goes; callers persist the instance once,
// inside their lock.
type Scheduler struct {
	persistence persistence.Persistence
	directory   directory.Directory
	router      *flow.Router
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

func NewScheduler(p persistence.Persistence, dir directory.Directory, bus eventbus.EventPublisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence: p,
		directory:   dir,
		router:      flow.NewRouter(),
		eventBus:    bus,
		logger:      logger,
	}
}

// Activate materializes steps for node under a fresh round: one PENDING step
// per resolved assignee for APPROVAL nodes, auto-APPROVED informational steps
// for CC nodes. returnedFrom marks steps created by a RETURN.
func (s *Scheduler) Activate(ctx context.Context, instance *models.Instance, node *models.FlowNode, returnedFrom *string) ([]*models.Step, error) {
	assignees, err := flow.ResolveNodeAssignees(ctx, s.directory, node)
	if err != nil {
		return nil, err
	}

	existing, err := s.persistence.Steps().ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for instance %s: %w", instance.ID, err)
	}

	round := latestRound(existing, node.ID) + 1
	now := time.Now().UTC()

	steps := make([]*models.Step, 0, len(assignees))

	for _, assignee := range assignees {
		step := &models.Step{
			ID:           newID(),
			StepNo:       "ST" + now.Format("20060102") + "-" + newShortNo(),
			InstanceID:   instance.ID,
			NodeID:       node.ID,
			NodeName:     node.Name,
			NodeType:     node.Type,
			ApprovalType: node.ApprovalType,
			Round:        round,
			AssigneeID:   assignee,
			Status:       models.StepStatusPending,
			ReturnedFrom: returnedFrom,
			StartedAt:    now,
		}

		if node.Type == models.NodeTypeCC {
			step.Status = models.StepStatusApproved
			step.CompletedAt = &now
		}

		if err := s.persistence.Steps().Save(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to save step for node %s: %w", node.ID, err)
		}

		steps = append(steps, step)
		s.publishEvent(ctx, instance.ID, events.NewStepActivated(step))
	}

	instance.AddCurrentNode(node.ID)

	s.logger.InfoContext(ctx, "node activated",
		"instance_id", instance.ID, "node_id", node.ID, "round", round, "steps", len(steps))

	return steps, nil
}

// NodeOutcome evaluates node's completion policy over the latest round. CC
// nodes never gate and are always satisfied.
func (s *Scheduler) NodeOutcome(node *models.FlowNode, steps []*models.Step) Outcome {
	if node.Type == models.NodeTypeCC {
		return OutcomeSatisfied
	}

	counting := countingSteps(steps, node.ID)

	policy, ok := completionPolicies[node.ApprovalType]
	if !ok {
		policy = singleOutcome
	}

	return policy(counting)
}

// Advance moves the instance past the satisfied node fromNodeID: routes the
// outgoing lines, activates the targets, passes straight through CC nodes and
// terminates the instance APPROVED when an END node is reached.
func (s *Scheduler) Advance(ctx context.Context, instance *models.Instance, flowDef *models.Flow, fromNodeID string) error {
	instance.RemoveCurrentNode(fromNodeID)

	targets, err := s.router.NextNodes(flowDef, fromNodeID, instance.FormData)
	if err != nil {
		return err
	}

	for _, targetID := range targets {
		target := flowDef.NodeByID(targetID)
		if target == nil {
			return fmt.Errorf("flow %s: line targets unknown node %s", flowDef.ID, targetID)
		}

		// A join node reached by several branches activates once: later
		// branches converge on the round already pending there.
		if instance.AtNode(target.ID) {
			continue
		}

		switch target.Type {
		case models.NodeTypeEnd:
			return s.Terminate(ctx, instance, models.InstanceStatusApproved)

		case models.NodeTypeCC:
			if _, err := s.Activate(ctx, instance, target, nil); err != nil {
				return err
			}

			if err := s.Advance(ctx, instance, flowDef, target.ID); err != nil {
				return err
			}

		default:
			if _, err := s.Activate(ctx, instance, target, nil); err != nil {
				return err
			}
		}

		if instance.IsTerminal() {
			return nil
		}
	}

	return nil
}

// Terminate finishes the instance with status, cancelling every outstanding
// PENDING step and clearing the active node set. The caller persists the
// instance.
func (s *Scheduler) Terminate(ctx context.Context, instance *models.Instance, status models.InstanceStatus) error {
	if err := s.CancelPendingSteps(ctx, instance.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	instance.Status = status
	instance.CurrentNodeIDs = nil
	instance.EndedAt = &now

	s.logger.InfoContext(ctx, "instance terminated", "instance_id", instance.ID, "status", status)

	return nil
}

// CancelPendingSteps marks every PENDING step of the instance CANCELLED.
func (s *Scheduler) CancelPendingSteps(ctx context.Context, instanceID string) error {
	steps, err := s.persistence.Steps().ListByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to load steps for instance %s: %w", instanceID, err)
	}

	now := time.Now().UTC()

	for _, step := range steps {
		if step.Status != models.StepStatusPending {
			continue
		}

		step.Status = models.StepStatusCancelled
		step.CompletedAt = &now

		if err := s.persistence.Steps().Save(ctx, step); err != nil {
			return fmt.Errorf("failed to cancel step %s: %w", step.ID, err)
		}
	}

	return nil
}

func (s *Scheduler) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event", "event", event.GetType(), "error", err)
	}
}

// latestRound returns the highest round materialized at nodeID, 0 when the
// node has never been activated.
func latestRound(steps []*models.Step, nodeID string) int {
	round := 0

	for _, s := range steps {
		if s.NodeID == nodeID && s.Round > round {
			round = s.Round
		}
	}

	return round
}

// countingSteps returns the steps at nodeID that participate in its
// completion policy: latest round only, delegated originals and historical
// cancelled/returned steps excluded.
func countingSteps(steps []*models.Step, nodeID string) []*models.Step {
	round := latestRound(steps, nodeID)
	counting := make([]*models.Step, 0, len(steps))

	for _, s := range steps {
		if s.NodeID == nodeID && s.Round == round && s.Counts() {
			counting = append(counting, s)
		}
	}

	return counting
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func newShortNo() string {
	return uuid.NewString()[:8]
}
