package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/otelhelper"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartRequest carries everything needed to open an instance against a
// published flow.
type StartRequest struct {
	FlowID       string
	Title        string
	ApplicantID  int64
	FormData     map[string]any
	BusinessKey  string
	BusinessType string
	Urgency      models.Urgency
	Tags         []string
	Attachments  []any
}

// InstanceService owns the instance lifecycle: start, read, cancel, delete.
type InstanceService struct {
	persistence persistence.Persistence
	scheduler   *Scheduler
	locker      Locker
	eventBus    eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewInstanceService(
	p persistence.Persistence,
	scheduler *Scheduler,
	locker Locker,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *InstanceService {
	return &InstanceService{
		persistence: p,
		scheduler:   scheduler,
		locker:      locker,
		eventBus:    bus,
		tracer:      tracer,
		logger:      logger,
	}
}

// Start opens a new instance bound to the flow's currently published version.
// The binding is permanent: publishing a newer version later never touches a
// running instance. Form data is validated against the flow's JSON schema
// before anything is persisted.
func (s *InstanceService) Start(ctx context.Context, req StartRequest) (*models.Instance, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "instance.start",
		attribute.String(otelhelper.FlowIDKey, req.FlowID),
		attribute.Int64(otelhelper.ApplicantIDKey, req.ApplicantID),
	)
	defer span.End()

	instance, err := s.start(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	return instance, nil
}

func (s *InstanceService) start(ctx context.Context, req StartRequest) (*models.Instance, error) {
	flowDef, err := s.persistence.Flows().GetByID(ctx, req.FlowID)
	if err != nil {
		return nil, err
	}

	if flowDef.Status != models.FlowStatusPublished {
		return nil, fmt.Errorf("flow %s: %w", req.FlowID, ErrFlowNotPublished)
	}

	// Run against the frozen snapshot, not the mutable working copy.
	snapshot, err := s.persistence.Flows().GetVersion(ctx, flowDef.ID, flowDef.Version)
	if err != nil {
		return nil, err
	}

	if err := validateFormData(snapshot.FormSchema, req.FormData); err != nil {
		return nil, err
	}

	start := snapshot.StartNode()
	if start == nil {
		return nil, fmt.Errorf("flow %s has no start node", snapshot.ID)
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = models.UrgencyNormal
	}

	now := time.Now().UTC()
	instance := &models.Instance{
		ID:           newID(),
		InstanceNo:   "AP" + now.Format("20060102") + "-" + newShortNo(),
		FlowID:       snapshot.ID,
		FlowVersion:  snapshot.Version,
		Title:        req.Title,
		Status:       models.InstanceStatusPending,
		ApplicantID:  req.ApplicantID,
		BusinessKey:  req.BusinessKey,
		BusinessType: req.BusinessType,
		FormData:     req.FormData,
		Urgency:      urgency,
		Tags:         req.Tags,
		Attachments:  req.Attachments,
		StartedAt:    now,
	}

	release, err := s.locker.Acquire(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	// The START node itself carries no work: route straight to its targets.
	if err := s.scheduler.Advance(ctx, instance, snapshot, start.ID); err != nil {
		s.abortStart(ctx, instance.ID)

		return nil, err
	}

	if err := s.persistence.Instances().Save(ctx, instance); err != nil {
		s.abortStart(ctx, instance.ID)

		return nil, fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}

	s.publishEvent(ctx, instance.ID, events.NewInstanceStarted(instance))

	if instance.IsTerminal() {
		s.publishEvent(ctx, instance.ID, events.NewInstanceCompleted(instance))
	}

	s.logger.InfoContext(ctx, "instance started",
		"instance_id", instance.ID, "flow_id", instance.FlowID, "flow_version", instance.FlowVersion,
		"applicant_id", instance.ApplicantID)

	return instance, nil
}

// abortStart removes an instance whose first activation failed partway. The
// cascade takes any steps materialized before the failure with it, so a
// failed start leaves nothing behind.
func (s *InstanceService) abortStart(ctx context.Context, instanceID string) {
	if err := s.persistence.Instances().Delete(ctx, instanceID); err != nil {
		s.logger.ErrorContext(ctx, "failed to clean up aborted instance",
			"instance_id", instanceID, "error", err)
	}
}

// Get returns the instance with its full step history embedded.
func (s *InstanceService) Get(ctx context.Context, id string) (*models.Instance, error) {
	instance, err := s.persistence.Instances().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	steps, err := s.persistence.Steps().ListByInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for instance %s: %w", id, err)
	}

	instance.Steps = steps

	return instance, nil
}

// List returns a filtered page of instances.
func (s *InstanceService) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	return s.persistence.Instances().List(ctx, opts)
}

// Cancel terminates a PENDING instance out of band: no graph traversal, every
// outstanding step cancelled. Only the applicant (or an admin acting with
// admin=true) may cancel.
func (s *InstanceService) Cancel(ctx context.Context, id string, actorID int64, admin bool) (*models.Instance, error) {
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	instance, err := s.persistence.Instances().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !admin && instance.ApplicantID != actorID {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotOwner)
	}

	if instance.Status != models.InstanceStatusPending {
		return nil, fmt.Errorf("instance %s: %w", id, ErrInstanceNotPending)
	}

	if err := s.scheduler.Terminate(ctx, instance, models.InstanceStatusCancelled); err != nil {
		return nil, err
	}

	if err := s.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance %s: %w", id, err)
	}

	s.publishEvent(ctx, instance.ID, events.NewInstanceCancelled(instance, actorID))

	s.logger.InfoContext(ctx, "instance cancelled", "instance_id", id, "actor_id", actorID)

	return instance, nil
}

// Delete removes a terminal instance and its steps. Running instances must be
// cancelled first; cancel and delete are deliberately separate operations.
func (s *InstanceService) Delete(ctx context.Context, id string, actorID int64) error {
	instance, err := s.persistence.Instances().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if instance.ApplicantID != actorID {
		return fmt.Errorf("instance %s: %w", id, ErrNotOwner)
	}

	if !instance.IsTerminal() {
		return fmt.Errorf("instance %s: %w", id, ErrInstanceActive)
	}

	if err := s.persistence.Instances().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "instance deleted", "instance_id", id, "actor_id", actorID)

	return nil
}

func (s *InstanceService) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event", "event", event.GetType(), "error", err)
	}
}

// validateFormData checks the submitted form against the flow's JSON schema.
// A flow without a schema accepts anything.
func validateFormData(schema map[string]any, formData map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if formData == nil {
		formData = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(formData),
	)
	if err != nil {
		return fmt.Errorf("failed to validate form data: %w", err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("%s: %w", detail, ErrInvalidFormData)
	}

	return nil
}
