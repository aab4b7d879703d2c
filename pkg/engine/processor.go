package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/otelhelper"
	"github.com/approvia/approvia/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Action is an approver's decision on a pending step.
type Action struct {
	Type        models.StepAction
	ActorID     int64
	Opinion     string
	Attachments []any

	// DelegateTo is required for DELEGATE actions.
	DelegateTo *int64

	// ReturnToNode is required for RETURN actions.
	ReturnToNode string
}

// Processor applies approver actions to steps. Every Process call holds the
// instance lock for its entire read-modify-write, so concurrent actions on
// the same instance serialize and the second actor on an already-decided
// step gets ErrStepAlreadyCompleted instead of a lost update.
type Processor struct {
	persistence persistence.Persistence
	directory   directory.Directory
	scheduler   *Scheduler
	locker      Locker
	eventBus    eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewProcessor(
	p persistence.Persistence,
	dir directory.Directory,
	scheduler *Scheduler,
	locker Locker,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		persistence: p,
		directory:   dir,
		scheduler:   scheduler,
		locker:      locker,
		eventBus:    bus,
		tracer:      tracer,
		logger:      logger,
	}
}

// Process applies action to the step. The step is located first to learn its
// instance, then everything is re-read under the instance lock.
func (p *Processor) Process(ctx context.Context, stepID string, action Action) (*models.Step, error) {
	located, err := p.persistence.Steps().GetByID(ctx, stepID)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "processor.process",
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.String(otelhelper.InstanceIDKey, located.InstanceID),
		attribute.String(otelhelper.ActionKey, string(action.Type)),
		attribute.Int64(otelhelper.AssigneeIDKey, action.ActorID),
	)
	defer span.End()

	release, err := p.locker.Acquire(ctx, located.InstanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}
	defer release()

	step, err := p.process(ctx, stepID, action)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return step, nil
}

func (p *Processor) process(ctx context.Context, stepID string, action Action) (*models.Step, error) {
	step, err := p.persistence.Steps().GetByID(ctx, stepID)
	if err != nil {
		return nil, err
	}

	instance, err := p.persistence.Instances().GetByID(ctx, step.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusPending {
		return nil, fmt.Errorf("instance %s: %w", instance.ID, ErrInstanceNotPending)
	}

	if step.IsCompleted() {
		return nil, fmt.Errorf("step %s: %w", step.ID, ErrStepAlreadyCompleted)
	}

	if action.ActorID != step.AssigneeID {
		return nil, fmt.Errorf("step %s: %w", step.ID, ErrNotAssignee)
	}

	flowDef, err := p.persistence.Flows().GetVersion(ctx, instance.FlowID, instance.FlowVersion)
	if err != nil {
		return nil, err
	}

	switch action.Type {
	case models.StepActionApprove, models.StepActionReject:
		err = p.decide(ctx, instance, flowDef, step, action)
	case models.StepActionDelegate:
		err = p.delegate(ctx, instance, step, action)
	case models.StepActionReturn:
		err = p.returnTo(ctx, instance, flowDef, step, action)
	default:
		err = fmt.Errorf("action %q: %w", action.Type, ErrUnknownAction)
	}

	if err != nil {
		return nil, err
	}

	if err := p.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}

	if instance.IsTerminal() {
		p.publishEvent(ctx, instance.ID, events.NewInstanceCompleted(instance))
	}

	p.logger.InfoContext(ctx, "step processed",
		"step_id", step.ID, "instance_id", instance.ID, "action", action.Type, "actor_id", action.ActorID)

	return step, nil
}

// decide completes the step with APPROVE or REJECT and re-evaluates the
// node's completion policy.
func (p *Processor) decide(ctx context.Context, instance *models.Instance, flowDef *models.Flow, step *models.Step, action Action) error {
	status := models.StepStatusApproved
	if action.Type == models.StepActionReject {
		status = models.StepStatusRejected
	}

	p.completeStep(step, status, action)

	if err := p.persistence.Steps().Save(ctx, step); err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	p.publishEvent(ctx, instance.ID, events.NewStepCompleted(step))

	node := flowDef.NodeByID(step.NodeID)
	if node == nil {
		return fmt.Errorf("flow %s: step references unknown node %s", flowDef.ID, step.NodeID)
	}

	steps, err := p.persistence.Steps().ListByInstance(ctx, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps for instance %s: %w", instance.ID, err)
	}

	switch p.scheduler.NodeOutcome(node, steps) {
	case OutcomeSatisfied:
		// Siblings that never got to act are moot once the node is satisfied.
		if err := p.cancelNodeSiblings(ctx, steps, node.ID, step.Round); err != nil {
			return err
		}

		return p.scheduler.Advance(ctx, instance, flowDef, node.ID)

	case OutcomeFailed:
		return p.scheduler.Terminate(ctx, instance, models.InstanceStatusRejected)

	default:
		return nil
	}
}

// delegate hands the step to another user. The original is excluded from
// completion counting; the successor carries the vote.
func (p *Processor) delegate(ctx context.Context, instance *models.Instance, step *models.Step, action Action) error {
	if action.DelegateTo == nil || *action.DelegateTo == step.AssigneeID {
		return fmt.Errorf("step %s: %w", step.ID, ErrInvalidDelegateTarget)
	}

	resolved, err := p.directory.ResolveAssignees(ctx, models.AssigneeTypeUser, []int64{*action.DelegateTo})
	if err != nil || len(resolved) == 0 {
		return fmt.Errorf("step %s: user %d: %w", step.ID, *action.DelegateTo, ErrInvalidDelegateTarget)
	}

	p.completeStep(step, models.StepStatusDelegated, action)

	if err := p.persistence.Steps().Save(ctx, step); err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	p.publishEvent(ctx, instance.ID, events.NewStepCompleted(step))

	now := time.Now().UTC()
	successor := &models.Step{
		ID:            newID(),
		StepNo:        "ST" + now.Format("20060102") + "-" + newShortNo(),
		InstanceID:    step.InstanceID,
		NodeID:        step.NodeID,
		NodeName:      step.NodeName,
		NodeType:      step.NodeType,
		ApprovalType:  step.ApprovalType,
		Round:         step.Round,
		AssigneeID:    *action.DelegateTo,
		Status:        models.StepStatusPending,
		DelegatedFrom: &step.AssigneeID,
		StartedAt:     now,
	}

	if err := p.persistence.Steps().Save(ctx, successor); err != nil {
		return fmt.Errorf("failed to save delegated step: %w", err)
	}

	p.publishEvent(ctx, instance.ID, events.NewStepActivated(successor))

	return nil
}

// returnTo sends the instance back to an earlier APPROVAL node. Outstanding
// steps are cancelled and the target re-activates under a fresh round, so
// every prior decision at the target stops counting and approval restarts
// from there. This is the one sanctioned backward traversal.
func (p *Processor) returnTo(ctx context.Context, instance *models.Instance, flowDef *models.Flow, step *models.Step, action Action) error {
	target := flowDef.NodeByID(action.ReturnToNode)
	if target == nil || target.Type != models.NodeTypeApproval || target.ID == step.NodeID {
		return fmt.Errorf("step %s: node %q: %w", step.ID, action.ReturnToNode, ErrInvalidReturnTarget)
	}

	steps, err := p.persistence.Steps().ListByInstance(ctx, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps for instance %s: %w", instance.ID, err)
	}

	if latestRound(steps, target.ID) == 0 {
		return fmt.Errorf("step %s: node %q never visited: %w", step.ID, action.ReturnToNode, ErrInvalidReturnTarget)
	}

	p.completeStep(step, models.StepStatusReturned, action)

	if err := p.persistence.Steps().Save(ctx, step); err != nil {
		return fmt.Errorf("failed to save step %s: %w", step.ID, err)
	}

	p.publishEvent(ctx, instance.ID, events.NewStepCompleted(step))

	if err := p.scheduler.CancelPendingSteps(ctx, instance.ID); err != nil {
		return err
	}

	instance.CurrentNodeIDs = nil

	returnedFrom := step.NodeID
	if _, err := p.scheduler.Activate(ctx, instance, target, &returnedFrom); err != nil {
		return err
	}

	return nil
}

func (p *Processor) completeStep(step *models.Step, status models.StepStatus, action Action) {
	now := time.Now().UTC()
	step.Status = status
	step.Action = action.Type
	step.Opinion = action.Opinion
	step.Attachments = action.Attachments
	step.IsRead = true
	step.CompletedAt = &now
}

// cancelNodeSiblings cancels the still-pending steps of the given node and
// round after its policy is already met.
func (p *Processor) cancelNodeSiblings(ctx context.Context, steps []*models.Step, nodeID string, round int) error {
	now := time.Now().UTC()

	for _, sibling := range steps {
		if sibling.NodeID != nodeID || sibling.Round != round || sibling.Status != models.StepStatusPending {
			continue
		}

		sibling.Status = models.StepStatusCancelled
		sibling.CompletedAt = &now

		if err := p.persistence.Steps().Save(ctx, sibling); err != nil {
			return fmt.Errorf("failed to cancel step %s: %w", sibling.ID, err)
		}
	}

	return nil
}

func (p *Processor) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if p.eventBus == nil {
		return
	}

	if err := p.eventBus.Publish(ctx, key, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event", "event", event.GetType(), "error", err)
	}
}
