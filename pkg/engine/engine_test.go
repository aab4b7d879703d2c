package engine_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/flow"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence/file"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type testEnv struct {
	persistence *file.Persistence
	directory   *directory.Static
	flows       *flow.Service
	instances   *engine.InstanceService
	processor   *engine.Processor
	inbox       *engine.Inbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	p := file.NewPersistence(t.TempDir())
	dir := directory.NewStatic()
	locker := engine.NewKeyedMutex()
	tracer := noop.NewTracerProvider().Tracer("test")
	scheduler := engine.NewScheduler(p, dir, nil, logger)

	return &testEnv{
		persistence: p,
		directory:   dir,
		flows:       flow.NewService(p, nil, logger),
		instances:   engine.NewInstanceService(p, scheduler, locker, nil, tracer, logger),
		processor:   engine.NewProcessor(p, dir, scheduler, locker, nil, tracer, logger),
		inbox:       engine.NewInbox(p),
	}
}

func startNode() *models.FlowNode {
	return &models.FlowNode{ID: "start", Name: "Start", Type: models.NodeTypeStart, IsFirst: true}
}

func endNode() *models.FlowNode {
	return &models.FlowNode{ID: "end", Name: "End", Type: models.NodeTypeEnd, IsFinal: true}
}

func approvalNode(id string, approvalType models.ApprovalType, assignees ...int64) *models.FlowNode {
	return &models.FlowNode{
		ID:           id,
		Name:         "Approval " + id,
		Type:         models.NodeTypeApproval,
		ApprovalType: approvalType,
		AssigneeType: models.AssigneeTypeUser,
		AssigneeIDs:  assignees,
	}
}

func ccNode(id string, assignees ...int64) *models.FlowNode {
	return &models.FlowNode{
		ID:           id,
		Name:         "CC " + id,
		Type:         models.NodeTypeCC,
		AssigneeType: models.AssigneeTypeUser,
		AssigneeIDs:  assignees,
	}
}

func line(from, to string) *models.FlowLine {
	return &models.FlowLine{ID: from + "->" + to, FromNodeID: from, ToNodeID: to}
}

func condLine(from, to, condition string, priority int) *models.FlowLine {
	return &models.FlowLine{
		ID:                  from + "->" + to,
		FromNodeID:          from,
		ToNodeID:            to,
		ConditionExpression: condition,
		Priority:            priority,
	}
}

// publishFlow creates and publishes a flow, returning the published working copy.
func publishFlow(t *testing.T, env *testEnv, nodes []*models.FlowNode, lines []*models.FlowLine) *models.Flow {
	t.Helper()

	ctx := t.Context()

	created, err := env.flows.Create(ctx, &models.Flow{
		Name:  "expense approval",
		Nodes: nodes,
		Lines: lines,
	})
	require.NoError(t, err)

	published, err := env.flows.Publish(ctx, created.ID)
	require.NoError(t, err)

	return published
}

// publishSingleApproval publishes start -> approval(SINGLE, assignee) -> end.
func publishSingleApproval(t *testing.T, env *testEnv, assignee int64) *models.Flow {
	t.Helper()

	return publishFlow(t, env,
		[]*models.FlowNode{startNode(), approvalNode("a1", models.ApprovalTypeSingle, assignee), endNode()},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
}

func startInstance(t *testing.T, env *testEnv, flowID string, applicant int64) *models.Instance {
	t.Helper()

	instance, err := env.instances.Start(t.Context(), engine.StartRequest{
		FlowID:      flowID,
		Title:       "office chairs",
		ApplicantID: applicant,
	})
	require.NoError(t, err)

	return instance
}

// pendingStepFor finds the PENDING step assigned to userID.
func pendingStepFor(t *testing.T, env *testEnv, instanceID string, userID int64) *models.Step {
	t.Helper()

	steps, err := env.persistence.Steps().ListByInstance(t.Context(), instanceID)
	require.NoError(t, err)

	for _, s := range steps {
		if s.AssigneeID == userID && s.Status == models.StepStatusPending {
			return s
		}
	}

	t.Fatalf("no pending step for user %d in instance %s", userID, instanceID)

	return nil
}

func approve(t *testing.T, env *testEnv, stepID string, actor int64) *models.Step {
	t.Helper()

	step, err := env.processor.Process(t.Context(), stepID, engine.Action{
		Type:    models.StepActionApprove,
		ActorID: actor,
		Opinion: "looks good",
	})
	require.NoError(t, err)

	return step
}

func getInstance(t *testing.T, env *testEnv, id string) *models.Instance {
	t.Helper()

	instance, err := env.instances.Get(t.Context(), id)
	require.NoError(t, err)

	return instance
}
