package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// Service manages flow definitions through their draft/published/archived
// lifecycle.
type Service struct {
	persistence persistence.Persistence
	validator   *Validator
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

// NewService creates a flow service. The event publisher may be nil; lifecycle
// events are best-effort.
func NewService(p persistence.Persistence, bus eventbus.EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		validator:   NewValidator(),
		eventBus:    bus,
		logger:      logger,
	}
}

// Create stores a new flow as a version-1 draft.
func (s *Service) Create(ctx context.Context, f *models.Flow) (*models.Flow, error) {
	f.ID = ""
	f.Status = models.FlowStatusDraft
	f.Version = 1
	f.PublishedAt = nil

	if err := s.persistence.Flows().Save(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	return f, nil
}

// Get returns the working copy of a flow.
func (s *Service) Get(ctx context.Context, id string) (*models.Flow, error) {
	return s.persistence.Flows().GetByID(ctx, id)
}

// GetVersion returns an immutable published snapshot.
func (s *Service) GetVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	return s.persistence.Flows().GetVersion(ctx, id, version)
}

// List returns a filtered page of flows.
func (s *Service) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	return s.persistence.Flows().List(ctx, opts)
}

// Update applies edits to a flow. Drafts are edited in place; editing a
// published or archived flow opens a new draft with an incremented version,
// leaving every published snapshot untouched.
func (s *Service) Update(ctx context.Context, id string, updated *models.Flow) (*models.Flow, error) {
	existing, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status != models.FlowStatusDraft {
		existing.Version++
		existing.Status = models.FlowStatusDraft
		existing.PublishedAt = nil
	}

	existing.Name = updated.Name
	existing.Description = updated.Description
	existing.Icon = updated.Icon
	existing.Category = updated.Category
	existing.FormSchema = updated.FormSchema
	existing.Nodes = updated.Nodes
	existing.Lines = updated.Lines
	existing.Settings = updated.Settings

	if err := s.persistence.Flows().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update flow: %w", err)
	}

	return existing, nil
}

// Publish validates the draft, freezes it as an immutable snapshot under
// (id, version) and marks the working copy published. Publishing an
// already-published version fails with ErrAlreadyPublished.
func (s *Service) Publish(ctx context.Context, id string) (*models.Flow, error) {
	f, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if f.Status == models.FlowStatusPublished {
		return nil, ErrAlreadyPublished
	}

	if err := s.validator.Validate(f); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	f.Status = models.FlowStatusPublished
	f.PublishedAt = &now

	if err := s.persistence.Flows().SaveVersion(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to snapshot flow version: %w", err)
	}

	if err := s.persistence.Flows().Save(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to save published flow: %w", err)
	}

	s.publishEvent(ctx, f.ID, events.NewFlowPublished(f))

	return f, nil
}

// Unpublish archives a published flow. No new instances may start against it;
// running instances keep their bound snapshot.
func (s *Service) Unpublish(ctx context.Context, id string) (*models.Flow, error) {
	f, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if f.Status != models.FlowStatusPublished {
		return nil, ErrNotPublished
	}

	f.Status = models.FlowStatusArchived

	if err := s.persistence.Flows().Save(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to archive flow: %w", err)
	}

	s.publishEvent(ctx, f.ID, events.NewFlowUnpublished(f))

	return f, nil
}

// Delete soft-deletes a flow. Published flows must be unpublished first.
func (s *Service) Delete(ctx context.Context, id string) error {
	f, err := s.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if f.Status == models.FlowStatusPublished {
		return ErrFlowPublished
	}

	return s.persistence.Flows().Delete(ctx, id)
}

func (s *Service) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish flow event", "event", event.GetType(), "error", err)
	}
}
