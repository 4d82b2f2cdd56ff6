// Package storetest holds the behaviour every persistence backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Stores interface {
	persistence.RunStore
	persistence.WorkflowStore
}

var base = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

func NewRun(workflowId string, entityId string, partition int, dueAt *time.Time) *model.RunInstance {
	return &model.RunInstance{
		Id:                  uuid.NewString(),
		WorkflowId:          workflowId,
		EntityId:            entityId,
		Status:              model.RUN_STATUS_WAITING,
		ScheduledDispatchAt: dueAt,
		CreatedAt:           base,
		StageEnteredAt:      base,
		Partition:           partition,
		Entity:              map[string]any{"name": "Ada"},
	}
}

func at(minutes int) *time.Time {
	t := base.Add(time.Duration(minutes) * time.Minute)
	return &t
}

// Run exercises a backend. newStores must return stores with no data visible
// from earlier calls.
func Run(t *testing.T, newStores func(t *testing.T) Stores) {
	for scenario, fn := range map[string]func(t *testing.T, s Stores){
		"create and get run":            testCreateGet,
		"missing run":                   testMissingRun,
		"compare and set":               testCompareAndSet,
		"concurrent claim has a winner": testConcurrentClaim,
		"due runs by partition":         testListDue,
		"due runs resume after cursor":  testListDueAfterCursor,
		"indexes follow status":         testIndexes,
		"workflow definitions":          testWorkflows,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStores(t))
		})
	}
}

func testCreateGet(t *testing.T, s Stores) {
	ctx := context.Background()
	run := NewRun("wf", "e1", 1, at(10))
	run.History = []model.ExecutionRecord{{StepIndex: 1, ActionType: "send_text", Outcome: model.OUTCOME_SUCCESS, AttemptedAt: base, CompletedAt: base}}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.Id)
	require.NoError(t, err)
	assert.Equal(t, run.WorkflowId, got.WorkflowId)
	assert.Equal(t, model.RUN_STATUS_WAITING, got.Status)
	assert.True(t, run.ScheduledDispatchAt.Equal(*got.ScheduledDispatchAt))
	assert.Len(t, got.History, 1)
	assert.Equal(t, "Ada", got.Entity["name"])

	assert.Error(t, s.CreateRun(ctx, run))
}

func testMissingRun(t *testing.T, s Stores) {
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func testCompareAndSet(t *testing.T, s Stores) {
	ctx := context.Background()
	run := NewRun("wf", "e1", 1, at(0))
	require.NoError(t, s.CreateRun(ctx, run))

	stale := run.Clone()

	run.Status = model.RUN_STATUS_RUNNING
	require.NoError(t, s.UpdateRun(ctx, run, model.RUN_STATUS_WAITING))
	assert.Equal(t, int64(1), run.Version)

	stale.Status = model.RUN_STATUS_STOPPED
	assert.ErrorIs(t, s.UpdateRun(ctx, stale, model.RUN_STATUS_WAITING), persistence.ErrClaimConflict)

	run.Status = model.RUN_STATUS_COMPLETED
	assert.ErrorIs(t, s.UpdateRun(ctx, run.Clone(), model.RUN_STATUS_WAITING), persistence.ErrClaimConflict)
	require.NoError(t, s.UpdateRun(ctx, run, model.RUN_STATUS_RUNNING))

	got, err := s.GetRun(ctx, run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RUN_STATUS_COMPLETED, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func testConcurrentClaim(t *testing.T, s Stores) {
	ctx := context.Background()
	run := NewRun("wf", "e1", 1, at(0))
	require.NoError(t, s.CreateRun(ctx, run))

	const claimants = 8
	var wg sync.WaitGroup
	results := make(chan error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := run.Clone()
			c.Status = model.RUN_STATUS_RUNNING
			results <- s.UpdateRun(ctx, c, model.RUN_STATUS_WAITING)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, persistence.ErrClaimConflict), fmt.Sprintf("unexpected error %v", err))
	}
	assert.Equal(t, 1, wins)
}

func testListDue(t *testing.T, s Stores) {
	ctx := context.Background()
	late := NewRun("wf", "e1", 3, at(30))
	early := NewRun("wf", "e2", 3, at(5))
	future := NewRun("wf", "e3", 3, at(120))
	other := NewRun("wf", "e4", 4, at(5))
	for _, r := range []*model.RunInstance{late, early, future, other} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	due, err := s.ListDue(ctx, 3, base.Add(time.Hour), nil, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.Id, due[0].Id)
	assert.Equal(t, late.Id, due[1].Id)

	due, err = s.ListDue(ctx, 3, base.Add(time.Hour), nil, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.Id, due[0].Id)

	early.Status = model.RUN_STATUS_RUNNING
	require.NoError(t, s.UpdateRun(ctx, early, model.RUN_STATUS_WAITING))
	due, err = s.ListDue(ctx, 3, base.Add(time.Hour), nil, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, late.Id, due[0].Id)
}

func testListDueAfterCursor(t *testing.T, s Stores) {
	ctx := context.Background()
	runs := []*model.RunInstance{
		NewRun("wf", "e1", 2, at(1)),
		NewRun("wf", "e2", 2, at(1)),
		NewRun("wf", "e3", 2, at(1)),
		NewRun("wf", "e4", 2, at(7)),
		NewRun("wf", "e5", 2, at(9)),
	}
	for _, r := range runs {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	var seen []string
	var cursor *persistence.DueCursor
	for {
		page, err := s.ListDue(ctx, 2, base.Add(time.Hour), cursor, 2)
		require.NoError(t, err)
		for _, r := range page {
			seen = append(seen, r.Id)
			cursor = persistence.CursorOf(r)
		}
		if len(page) < 2 {
			break
		}
	}
	require.Len(t, seen, len(runs))
	assert.Equal(t, runs[3].Id, seen[3])
	assert.Equal(t, runs[4].Id, seen[4])
	assert.ElementsMatch(t, []string{runs[0].Id, runs[1].Id, runs[2].Id}, seen[:3])
}

func testIndexes(t *testing.T, s Stores) {
	ctx := context.Background()
	a := NewRun("wf-a", "entity", 0, at(5))
	b := NewRun("wf-b", "entity", 0, at(5))
	c := NewRun("wf-a", "other", 0, at(5))
	for _, r := range []*model.RunInstance{a, b, c} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	byWf, err := s.ListByWorkflow(ctx, "wf-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Id, c.Id}, runIds(byWf))

	waiting, err := s.ListWaitingByEntity(ctx, "entity")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Id, b.Id}, runIds(waiting))

	b.Status = model.RUN_STATUS_STOPPED
	b.ScheduledDispatchAt = nil
	require.NoError(t, s.UpdateRun(ctx, b, model.RUN_STATUS_WAITING))

	waiting, err = s.ListWaitingByEntity(ctx, "entity")
	require.NoError(t, err)
	assert.Equal(t, []string{a.Id}, runIds(waiting))

	byWf, err = s.ListByWorkflow(ctx, "wf-b")
	require.NoError(t, err)
	require.Len(t, byWf, 1)
	assert.Equal(t, model.RUN_STATUS_STOPPED, byWf[0].Status)
}

func testWorkflows(t *testing.T, s Stores) {
	ctx := context.Background()
	wf := &model.Workflow{
		Id:      "welcome",
		Name:    "Welcome",
		Status:  model.WORKFLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{PipelineId: "sales", StageId: "new", EventKind: model.EVENT_KIND_CREATED},
		Steps:   []model.Step{model.DelayStep(60), model.ActionStep("send_text", map[string]any{"recipient": "{{phone}}", "body": "hi"})},
	}
	other := &model.Workflow{
		Id:      "followup",
		Status:  model.WORKFLOW_STATUS_DRAFT,
		Trigger: model.Trigger{PipelineId: "sales", StageId: "won", EventKind: model.EVENT_KIND_BOTH},
	}
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	require.NoError(t, s.SaveWorkflow(ctx, other))

	got, err := s.GetWorkflow(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "hi", got.Steps[1].Config["body"])

	byStage, err := s.ListWorkflowsByStage(ctx, "sales", "new")
	require.NoError(t, err)
	require.Len(t, byStage, 1)
	assert.Equal(t, "welcome", byStage[0].Id)

	wf.Trigger.StageId = "qualified"
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	byStage, err = s.ListWorkflowsByStage(ctx, "sales", "new")
	require.NoError(t, err)
	assert.Empty(t, byStage)

	all, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteWorkflow(ctx, "followup"))
	_, err = s.GetWorkflow(ctx, "followup")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.ErrorIs(t, s.DeleteWorkflow(ctx, "followup"), persistence.ErrNotFound)
}

func runIds(runs []*model.RunInstance) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.Id)
	}
	return ids
}
