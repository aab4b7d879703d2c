package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/approvia/approvia/pkg/channels/gochannel"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBusRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.InstanceStarted, 1)

	err := bus.Handle(events.InstanceStartedEvent, func(_ context.Context, event interface{}) error {
		started, ok := event.(*events.InstanceStarted)
		if ok {
			received <- started
		}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	instance := &models.Instance{
		ID:          "inst-1",
		FlowID:      "flow-1",
		FlowVersion: 3,
		ApplicantID: 42,
		Title:       "laptop purchase",
	}

	require.NoError(t, bus.Publish(ctx, instance.ID, events.NewInstanceStarted(instance)))

	select {
	case got := <-received:
		assert.Equal(t, "inst-1", got.InstanceID)
		assert.Equal(t, "flow-1", got.FlowID)
		assert.Equal(t, 3, got.FlowVersion)
		assert.Equal(t, int64(42), got.ApplicantID)
		assert.Equal(t, events.InstanceStartedEvent, got.Type)
		assert.NotEmpty(t, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan struct{}, 2)

	err := bus.Handle(events.StepCompletedEvent, func(_ context.Context, _ interface{}) error {
		received <- struct{}{}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for flow events; they are acked and dropped.
	flow := &models.Flow{ID: "flow-1", Version: 1, Name: "leave request"}
	require.NoError(t, bus.Publish(ctx, flow.ID, events.NewFlowPublished(flow)))

	step := &models.Step{ID: "step-1", InstanceID: "inst-1", Status: models.StepStatusApproved}
	require.NoError(t, bus.Publish(ctx, step.InstanceID, events.NewStepCompleted(step)))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for step event")
	}

	assert.Empty(t, received)
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
