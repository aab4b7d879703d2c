// Package events defines event types emitted over the approval lifecycle.
// They are the seam downstream notification dispatch hangs off; the engine
// itself never depends on a consumer being present.
package events

import (
	"time"

	"github.com/approvia/approvia/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic all approval events are published to.
const Topic = "approvia.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	FlowPublishedEvent     EventType = "flow.published"
	FlowUnpublishedEvent   EventType = "flow.unpublished"
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceCancelledEvent EventType = "instance.cancelled"
	StepActivatedEvent     EventType = "step.activated"
	StepCompletedEvent     EventType = "step.completed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

type FlowPublished struct {
	BaseEvent

	FlowID  string `json:"flow_id"`
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func NewFlowPublished(f *models.Flow) *FlowPublished {
	return &FlowPublished{
		BaseEvent: NewBaseEvent(FlowPublishedEvent),
		FlowID:    f.ID,
		Version:   f.Version,
		Name:      f.Name,
	}
}

func (e FlowPublished) GetType() EventType { return FlowPublishedEvent }

type FlowUnpublished struct {
	BaseEvent

	FlowID  string `json:"flow_id"`
	Version int    `json:"version"`
}

func NewFlowUnpublished(f *models.Flow) *FlowUnpublished {
	return &FlowUnpublished{
		BaseEvent: NewBaseEvent(FlowUnpublishedEvent),
		FlowID:    f.ID,
		Version:   f.Version,
	}
}

func (e FlowUnpublished) GetType() EventType { return FlowUnpublishedEvent }

type InstanceStarted struct {
	BaseEvent

	InstanceID  string `json:"instance_id"`
	FlowID      string `json:"flow_id"`
	FlowVersion int    `json:"flow_version"`
	ApplicantID int64  `json:"applicant_id"`
	Title       string `json:"title"`
}

func NewInstanceStarted(i *models.Instance) *InstanceStarted {
	return &InstanceStarted{
		BaseEvent:   NewBaseEvent(InstanceStartedEvent),
		InstanceID:  i.ID,
		FlowID:      i.FlowID,
		FlowVersion: i.FlowVersion,
		ApplicantID: i.ApplicantID,
		Title:       i.Title,
	}
}

func (e InstanceStarted) GetType() EventType { return InstanceStartedEvent }

type InstanceCompleted struct {
	BaseEvent

	InstanceID string                `json:"instance_id"`
	FlowID     string                `json:"flow_id"`
	Status     models.InstanceStatus `json:"status"`
}

func NewInstanceCompleted(i *models.Instance) *InstanceCompleted {
	return &InstanceCompleted{
		BaseEvent:  NewBaseEvent(InstanceCompletedEvent),
		InstanceID: i.ID,
		FlowID:     i.FlowID,
		Status:     i.Status,
	}
}

func (e InstanceCompleted) GetType() EventType { return InstanceCompletedEvent }

type InstanceCancelled struct {
	BaseEvent

	InstanceID  string `json:"instance_id"`
	FlowID      string `json:"flow_id"`
	CancelledBy int64  `json:"cancelled_by"`
}

func NewInstanceCancelled(i *models.Instance, byUserID int64) *InstanceCancelled {
	return &InstanceCancelled{
		BaseEvent:   NewBaseEvent(InstanceCancelledEvent),
		InstanceID:  i.ID,
		FlowID:      i.FlowID,
		CancelledBy: byUserID,
	}
}

func (e InstanceCancelled) GetType() EventType { return InstanceCancelledEvent }

type StepActivated struct {
	BaseEvent

	StepID     string          `json:"step_id"`
	InstanceID string          `json:"instance_id"`
	NodeID     string          `json:"node_id"`
	NodeType   models.NodeType `json:"node_type"`
	AssigneeID int64           `json:"assignee_id"`
}

func NewStepActivated(s *models.Step) *StepActivated {
	return &StepActivated{
		BaseEvent:  NewBaseEvent(StepActivatedEvent),
		StepID:     s.ID,
		InstanceID: s.InstanceID,
		NodeID:     s.NodeID,
		NodeType:   s.NodeType,
		AssigneeID: s.AssigneeID,
	}
}

func (e StepActivated) GetType() EventType { return StepActivatedEvent }

type StepCompleted struct {
	BaseEvent

	StepID     string            `json:"step_id"`
	InstanceID string            `json:"instance_id"`
	NodeID     string            `json:"node_id"`
	AssigneeID int64             `json:"assignee_id"`
	Status     models.StepStatus `json:"status"`
	Action     models.StepAction `json:"action"`
}

func NewStepCompleted(s *models.Step) *StepCompleted {
	return &StepCompleted{
		BaseEvent:  NewBaseEvent(StepCompletedEvent),
		StepID:     s.ID,
		InstanceID: s.InstanceID,
		NodeID:     s.NodeID,
		AssigneeID: s.AssigneeID,
		Status:     s.Status,
		Action:     s.Action,
	}
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }
