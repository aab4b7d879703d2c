package engine_test

import (
	"testing"

	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessApproveSingleCompletesInstance(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	require.Equal(t, models.InstanceStatusPending, instance.Status)
	require.Equal(t, []string{"a1"}, instance.CurrentNodeIDs)

	step := pendingStepFor(t, env, instance.ID, 100)
	done := approve(t, env, step.ID, 100)

	assert.Equal(t, models.StepStatusApproved, done.Status)
	assert.Equal(t, models.StepActionApprove, done.Action)
	assert.NotNil(t, done.CompletedAt)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)
	assert.Empty(t, final.CurrentNodeIDs)
	assert.NotNil(t, final.EndedAt)
}

func TestProcessRejectTerminatesRejected(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)

	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:    models.StepActionReject,
		ActorID: 100,
		Opinion: "over budget",
	})
	require.NoError(t, err)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusRejected, final.Status)
	assert.Empty(t, final.CurrentNodeIDs)
}

func TestProcessRejectsWrongActor(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)

	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:    models.StepActionApprove,
		ActorID: 999,
	})
	require.ErrorIs(t, err, engine.ErrNotAssignee)
	assert.True(t, engine.IsAuthError(err))
}

func TestProcessCompletedStepIsWriteOnce(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiAnd, 100, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)
	approve(t, env, step.ID, 100)

	// The instance is still PENDING (user 200 has not acted), so the
	// duplicate action fails on the step, not the instance.
	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:    models.StepActionApprove,
		ActorID: 100,
	})
	require.ErrorIs(t, err, engine.ErrStepAlreadyCompleted)
	assert.True(t, engine.IsStateError(err))
	assert.Equal(t, "STEP_ALREADY_COMPLETED", engine.Code(err))
}

func TestProcessOnTerminalInstance(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiOr, 100, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	winner := pendingStepFor(t, env, instance.ID, 100)
	loser := pendingStepFor(t, env, instance.ID, 200)

	approve(t, env, winner.ID, 100)

	_, err := env.processor.Process(t.Context(), loser.ID, engine.Action{
		Type:    models.StepActionApprove,
		ActorID: 200,
	})
	require.ErrorIs(t, err, engine.ErrInstanceNotPending)
	assert.Equal(t, "INSTANCE_NOT_PENDING", engine.Code(err))
}

func TestMultiAndRequiresAllApprovals(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiAnd, 100, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	first := pendingStepFor(t, env, instance.ID, 100)
	approve(t, env, first.ID, 100)

	mid := getInstance(t, env, instance.ID)
	require.Equal(t, models.InstanceStatusPending, mid.Status)
	require.Equal(t, []string{"a1"}, mid.CurrentNodeIDs)

	second := pendingStepFor(t, env, instance.ID, 200)
	approve(t, env, second.ID, 200)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)
}

func TestMultiAndRejectShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiAnd, 100, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)

	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:    models.StepActionReject,
		ActorID: 100,
	})
	require.NoError(t, err)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusRejected, final.Status)

	// The co-approver's step no longer matters and is cancelled.
	for _, s := range final.Steps {
		if s.AssigneeID == 200 {
			assert.Equal(t, models.StepStatusCancelled, s.Status)
		}
	}
}

func TestMultiAndRejectAfterApprovalsKeepsEarlierApprovals(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiAnd, 100, 200, 300),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	approve(t, env, pendingStepFor(t, env, instance.ID, 100).ID, 100)
	approve(t, env, pendingStepFor(t, env, instance.ID, 200).ID, 200)

	last := pendingStepFor(t, env, instance.ID, 300)
	_, err := env.processor.Process(t.Context(), last.ID, engine.Action{
		Type:    models.StepActionReject,
		ActorID: 300,
		Opinion: "policy violation",
	})
	require.NoError(t, err)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusRejected, final.Status)

	// The rejection ends the instance; the earlier approvals stay on record.
	for _, s := range final.Steps {
		switch s.AssigneeID {
		case 100, 200:
			assert.Equal(t, models.StepStatusApproved, s.Status)
		case 300:
			assert.Equal(t, models.StepStatusRejected, s.Status)
		}
	}
}

func TestMultiOrFirstApprovalWins(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiOr, 100, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)
	approve(t, env, step.ID, 100)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)

	for _, s := range final.Steps {
		if s.AssigneeID == 200 {
			assert.Equal(t, models.StepStatusCancelled, s.Status)
		}
	}
}

func TestMultiOrFailsOnlyWhenAllReject(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeMultiOr, 100, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	first := pendingStepFor(t, env, instance.ID, 100)
	_, err := env.processor.Process(t.Context(), first.ID, engine.Action{
		Type:    models.StepActionReject,
		ActorID: 100,
	})
	require.NoError(t, err)

	mid := getInstance(t, env, instance.ID)
	require.Equal(t, models.InstanceStatusPending, mid.Status)

	second := pendingStepFor(t, env, instance.ID, 200)
	_, err = env.processor.Process(t.Context(), second.ID, engine.Action{
		Type:    models.StepActionReject,
		ActorID: 200,
	})
	require.NoError(t, err)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusRejected, final.Status)
}

func TestDelegateHandsVoteToSuccessor(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)
	delegateTo := int64(300)

	original, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:       models.StepActionDelegate,
		ActorID:    100,
		DelegateTo: &delegateTo,
		Opinion:    "on vacation",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusDelegated, original.Status)

	mid := getInstance(t, env, instance.ID)
	require.Equal(t, models.InstanceStatusPending, mid.Status)

	successor := pendingStepFor(t, env, instance.ID, 300)
	require.NotNil(t, successor.DelegatedFrom)
	assert.Equal(t, int64(100), *successor.DelegatedFrom)
	assert.Equal(t, step.Round, successor.Round)

	approve(t, env, successor.ID, 300)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)
}

func TestDelegateToSelfIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)
	self := int64(100)

	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:       models.StepActionDelegate,
		ActorID:    100,
		DelegateTo: &self,
	})
	require.ErrorIs(t, err, engine.ErrInvalidDelegateTarget)
	assert.True(t, engine.IsValidationError(err))
}

func TestDelegateWithoutTargetIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)

	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:    models.StepActionDelegate,
		ActorID: 100,
	})
	require.ErrorIs(t, err, engine.ErrInvalidDelegateTarget)
}

func publishTwoStage(t *testing.T, env *testEnv) *models.Flow {
	t.Helper()

	return publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("n1", models.ApprovalTypeSingle, 100),
			approvalNode("n2", models.ApprovalTypeSingle, 200),
			endNode(),
		},
		[]*models.FlowLine{line("start", "n1"), line("n1", "n2"), line("n2", "end")},
	)
}

func TestReturnRestartsApprovalAtTarget(t *testing.T) {
	env := newTestEnv(t)
	f := publishTwoStage(t, env)
	instance := startInstance(t, env, f.ID, 1)

	first := pendingStepFor(t, env, instance.ID, 100)
	approve(t, env, first.ID, 100)

	second := pendingStepFor(t, env, instance.ID, 200)

	returned, err := env.processor.Process(t.Context(), second.ID, engine.Action{
		Type:         models.StepActionReturn,
		ActorID:      200,
		ReturnToNode: "n1",
		Opinion:      "missing receipts",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusReturned, returned.Status)

	mid := getInstance(t, env, instance.ID)
	require.Equal(t, models.InstanceStatusPending, mid.Status)
	require.Equal(t, []string{"n1"}, mid.CurrentNodeIDs)

	// A fresh round opened at n1: the old approval no longer counts.
	redo := pendingStepFor(t, env, mid.ID, 100)
	assert.Equal(t, 2, redo.Round)
	require.NotNil(t, redo.ReturnedFrom)
	assert.Equal(t, "n2", *redo.ReturnedFrom)

	// Full re-approval from the return point forward.
	approve(t, env, redo.ID, 100)
	again := pendingStepFor(t, env, instance.ID, 200)
	assert.Equal(t, 2, again.Round)
	approve(t, env, again.ID, 200)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)
}

func TestReturnTargetMustBeVisitedApprovalNode(t *testing.T) {
	env := newTestEnv(t)
	f := publishTwoStage(t, env)
	instance := startInstance(t, env, f.ID, 1)

	first := pendingStepFor(t, env, instance.ID, 100)

	cases := []struct {
		name   string
		target string
	}{
		{"unknown node", "nope"},
		{"end node", "end"},
		{"own node", "n1"},
		{"unvisited node", "n2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.processor.Process(t.Context(), first.ID, engine.Action{
				Type:         models.StepActionReturn,
				ActorID:      100,
				ReturnToNode: tc.target,
			})
			require.ErrorIs(t, err, engine.ErrInvalidReturnTarget)
		})
	}
}

func TestUnknownActionRejected(t *testing.T) {
	env := newTestEnv(t)
	f := publishSingleApproval(t, env, 100)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)

	_, err := env.processor.Process(t.Context(), step.ID, engine.Action{
		Type:    models.StepAction("ESCALATE"),
		ActorID: 100,
	})
	require.ErrorIs(t, err, engine.ErrUnknownAction)
}

func TestCCStepsNeverGateAdvancement(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("a1", models.ApprovalTypeSingle, 100),
			ccNode("cc1", 300, 301),
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "cc1"), line("cc1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	step := pendingStepFor(t, env, instance.ID, 100)
	approve(t, env, step.ID, 100)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)

	ccSteps := 0

	for _, s := range final.Steps {
		if s.NodeType == models.NodeTypeCC {
			ccSteps++

			assert.Equal(t, models.StepStatusApproved, s.Status)
			assert.False(t, s.IsRead)
		}
	}

	assert.Equal(t, 2, ccSteps)
}

func TestConditionalRoutingPicksFirstTruthyLine(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("low", models.ApprovalTypeSingle, 100),
			approvalNode("high", models.ApprovalTypeSingle, 200),
			endNode(),
		},
		[]*models.FlowLine{
			condLine("start", "high", "$.amount > 1000", 1),
			condLine("start", "low", "$.amount <= 1000", 2),
			line("low", "end"),
			line("high", "end"),
		},
	)

	instance, err := env.instances.Start(t.Context(), engine.StartRequest{
		FlowID:      f.ID,
		Title:       "team offsite",
		ApplicantID: 1,
		FormData:    map[string]any{"amount": 5000},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, instance.CurrentNodeIDs)

	cheap, err := env.instances.Start(t.Context(), engine.StartRequest{
		FlowID:      f.ID,
		Title:       "stationery",
		ApplicantID: 1,
		FormData:    map[string]any{"amount": 40},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, cheap.CurrentNodeIDs)
}

func TestUnconditionedLinesFanOutInParallel(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("legal", models.ApprovalTypeSingle, 100),
			approvalNode("finance", models.ApprovalTypeSingle, 200),
			endNode(),
		},
		[]*models.FlowLine{
			line("start", "legal"),
			line("start", "finance"),
			line("legal", "end"),
			line("finance", "end"),
		},
	)
	instance := startInstance(t, env, f.ID, 1)

	assert.ElementsMatch(t, []string{"legal", "finance"}, instance.CurrentNodeIDs)

	// Either branch reaching END terminates the instance APPROVED; the other
	// branch's outstanding step is cancelled.
	step := pendingStepFor(t, env, instance.ID, 100)
	approve(t, env, step.ID, 100)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)

	for _, s := range final.Steps {
		if s.AssigneeID == 200 {
			assert.Equal(t, models.StepStatusCancelled, s.Status)
		}
	}
}

func TestDiamondFanInActivatesJoinOnce(t *testing.T) {
	env := newTestEnv(t)
	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			approvalNode("legal", models.ApprovalTypeSingle, 100),
			approvalNode("finance", models.ApprovalTypeSingle, 200),
			approvalNode("join", models.ApprovalTypeSingle, 300),
			endNode(),
		},
		[]*models.FlowLine{
			line("start", "legal"),
			line("start", "finance"),
			line("legal", "join"),
			line("finance", "join"),
			line("join", "end"),
		},
	)
	instance := startInstance(t, env, f.ID, 1)
	require.ElementsMatch(t, []string{"legal", "finance"}, instance.CurrentNodeIDs)

	approve(t, env, pendingStepFor(t, env, instance.ID, 100).ID, 100)
	approve(t, env, pendingStepFor(t, env, instance.ID, 200).ID, 200)

	// Both branches converged on the join, which activated exactly once.
	mid := getInstance(t, env, instance.ID)
	require.Equal(t, []string{"join"}, mid.CurrentNodeIDs)

	joinSteps := 0

	for _, s := range mid.Steps {
		if s.NodeID == "join" {
			joinSteps++

			assert.Equal(t, 1, s.Round)
			assert.Equal(t, models.StepStatusPending, s.Status)
		}
	}
	require.Equal(t, 1, joinSteps)

	approve(t, env, pendingStepFor(t, env, instance.ID, 300).ID, 300)

	final := getInstance(t, env, instance.ID)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)
}

func TestRoleAssigneesResolvedAtActivation(t *testing.T) {
	env := newTestEnv(t)
	env.directory.RoleMembers[7] = []int64{100, 200}

	f := publishFlow(t, env,
		[]*models.FlowNode{
			startNode(),
			{
				ID:           "a1",
				Name:         "managers",
				Type:         models.NodeTypeApproval,
				ApprovalType: models.ApprovalTypeMultiAnd,
				AssigneeType: models.AssigneeTypeRole,
				AssigneeIDs:  []int64{7},
			},
			endNode(),
		},
		[]*models.FlowLine{line("start", "a1"), line("a1", "end")},
	)
	instance := startInstance(t, env, f.ID, 1)

	steps, err := env.persistence.Steps().ListByInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assignees := []int64{steps[0].AssigneeID, steps[1].AssigneeID}
	assert.ElementsMatch(t, []int64{100, 200}, assignees)
}
