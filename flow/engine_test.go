package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence/memory"
	"github.com/mohitkumar/autoflow/schedule"
	"github.com/mohitkumar/autoflow/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2024-01-08 09:00 UTC
var monday = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

type recordingCaps struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (c *recordingCaps) record(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if c.fail != nil {
		return "", c.fail
	}
	return fmt.Sprintf("%s-%d", name, len(c.calls)), nil
}

func (c *recordingCaps) CreateChannel(context.Context, string) (string, error) {
	return c.record("create_channel")
}

func (c *recordingCaps) SendMessage(context.Context, string, string) (string, error) {
	return c.record("send_channel_message")
}

func (c *recordingCaps) CreateTask(context.Context, string, string, *time.Time) (string, error) {
	return c.record("create_task")
}

func (c *recordingCaps) SendText(context.Context, string, string) (string, error) {
	return c.record("send_text")
}

func (c *recordingCaps) SendEmail(context.Context, string, string, string) (string, error) {
	return c.record("send_email")
}

func (c *recordingCaps) FindChannel(context.Context, string) (string, error) {
	return c.record("find_channel")
}

func (c *recordingCaps) AddNote(context.Context, string, string) error {
	_, err := c.record("add_note")
	return err
}

func (c *recordingCaps) UpdateStage(context.Context, string, string) error {
	_, err := c.record("update_stage")
	return err
}

func (c *recordingCaps) AssignUser(context.Context, string, string, string) error {
	_, err := c.record("assign_user")
	return err
}

type recordingListener struct {
	mu       sync.Mutex
	records  []model.ExecutionRecord
	finished []*model.RunInstance
}

func (l *recordingListener) ActionExecuted(_ *model.RunInstance, rec model.ExecutionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *recordingListener) RunFinished(run *model.RunInstance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, run.Clone())
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	clock    *util.FixedClock
	caps     *recordingCaps
	listener *recordingListener
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := util.NewFixedClock(monday)
	caps := &recordingCaps{}
	dispatcher := action.NewDispatcher(action.NewRegistry(), caps, clock)
	engine := NewEngine(store, store, NewMachine(schedule.NewResolver()), dispatcher, clock, opts...)
	listener := &recordingListener{}
	engine.AddListener(listener)
	return &fixture{engine: engine, store: store, clock: clock, caps: caps, listener: listener}
}

func (f *fixture) save(t *testing.T, wf *model.Workflow) {
	t.Helper()
	require.NoError(t, f.store.SaveWorkflow(context.Background(), wf))
}

func (f *fixture) trigger(t *testing.T, kind model.EventKind, entity map[string]any) []*model.RunInstance {
	t.Helper()
	runs, err := f.engine.HandleTriggerEvent(context.Background(), model.TriggerEvent{
		EntityId:   "deal-1",
		PipelineId: "sales",
		StageId:    "proposal",
		EventKind:  kind,
		Timestamp:  f.clock.Now(),
		Entity:     entity,
	})
	require.NoError(t, err)
	return runs
}

// claimAndExecute runs the scheduler's part for one due run.
func (f *fixture) claimAndExecute(t *testing.T, runId string) *model.RunInstance {
	t.Helper()
	ctx := context.Background()
	run, err := f.store.GetRun(ctx, runId)
	require.NoError(t, err)
	wf, err := f.engine.Claim(ctx, run)
	require.NoError(t, err)
	require.NotNil(t, wf, "run was not claimed")
	require.NoError(t, f.engine.ExecuteClaimed(ctx, run, wf))
	stored, err := f.store.GetRun(ctx, runId)
	require.NoError(t, err)
	return stored
}

func weekdays() model.SendRules {
	return model.SendRules{
		BusinessHours: model.BusinessHours{StartHour: 8, EndHour: 20},
		DaysOfWeek:    []int{1, 2, 3, 4, 5},
	}
}

func newWorkflow(id string, kind model.EventKind, steps ...model.Step) *model.Workflow {
	return &model.Workflow{
		Id:             id,
		Status:         model.WORKFLOW_STATUS_ACTIVE,
		Trigger:        model.Trigger{PipelineId: "sales", StageId: "proposal", EventKind: kind},
		TimingMode:     model.TIMING_MODE_PREVIOUS_ACTION,
		SendRules:      weekdays(),
		StopConditions: []string{"replied"},
		Steps:          steps,
	}
}

func textStep() model.Step {
	return model.ActionStep(action.SEND_TEXT, map[string]any{"recipient": "{{contact.phone}}", "body": "hi {{contact.name}}"})
}

func noteStep() model.Step {
	return model.ActionStep(action.ADD_NOTE, map[string]any{"body": "followed up"})
}

var entity = map[string]any{"contact": map[string]any{"name": "Ada", "phone": "+15550100"}}

func TestTriggerMatchesEventKind(t *testing.T) {
	f := newFixture(t)
	f.save(t, newWorkflow("on-created", model.EVENT_KIND_CREATED, textStep()))
	f.save(t, newWorkflow("on-moved", model.EVENT_KIND_MOVED, textStep()))
	f.save(t, newWorkflow("on-both", model.EVENT_KIND_BOTH, textStep()))

	runs := f.trigger(t, model.EVENT_KIND_MOVED, entity)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.WorkflowId)
	}
	assert.ElementsMatch(t, []string{"on-moved", "on-both"}, ids)
}

func TestTriggerRespectsStatusAndFilters(t *testing.T) {
	f := newFixture(t)
	draft := newWorkflow("draft", model.EVENT_KIND_BOTH, textStep())
	draft.Status = model.WORKFLOW_STATUS_DRAFT
	f.save(t, draft)
	filtered := newWorkflow("big-deals", model.EVENT_KIND_BOTH, textStep())
	filtered.Filters = []model.Filter{{FieldPath: "deal.value", Operator: "greater_than", Value: 1000}}
	f.save(t, filtered)

	assert.Empty(t, f.trigger(t, model.EVENT_KIND_CREATED, entity))

	withValue := map[string]any{"deal": map[string]any{"value": 5000}}
	runs := f.trigger(t, model.EVENT_KIND_CREATED, withValue)
	require.Len(t, runs, 1)
	assert.Equal(t, "big-deals", runs[0].WorkflowId)
}

func TestFirstWaitIsResolved(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC))
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH, model.DelayStep(1000), model.DelayStep(440), textStep()))

	runs := f.trigger(t, model.EVENT_KIND_CREATED, entity)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, model.RUN_STATUS_WAITING, run.Status)
	assert.Equal(t, 2, run.CurrentStepIndex)
	assert.Equal(t, 1440, run.PendingDelayMinutes)
	assert.Equal(t, time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC), *run.ScheduledDispatchAt)
	assert.False(t, run.EverRan)
}

func TestRunAdvancesThroughTimeline(t *testing.T) {
	f := newFixture(t)
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH,
		model.DelayStep(0), textStep(), model.DelayStep(30), noteStep()))
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]
	assert.Equal(t, monday, *run.ScheduledDispatchAt)

	f.clock.Advance(5 * time.Minute)
	run = f.claimAndExecute(t, run.Id)
	assert.Equal(t, model.RUN_STATUS_WAITING, run.Status)
	assert.Equal(t, 3, run.CurrentStepIndex)
	assert.Equal(t, monday.Add(35*time.Minute), *run.ScheduledDispatchAt)
	require.Len(t, run.History, 1)
	assert.Equal(t, model.OUTCOME_SUCCESS, run.History[0].Outcome)
	assert.Equal(t, "send_text-1", run.History[0].ExternalId)
	assert.True(t, run.EverRan)

	f.clock.Advance(30 * time.Minute)
	run = f.claimAndExecute(t, run.Id)
	assert.Equal(t, model.RUN_STATUS_COMPLETED, run.Status)
	assert.Equal(t, 3, run.CurrentStepIndex)
	require.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.ScheduledDispatchAt)
	require.Len(t, run.History, 2)
	assert.Equal(t, []string{"send_text", "add_note"}, f.caps.calls)

	require.Len(t, f.listener.finished, 1)
	assert.Len(t, f.listener.records, 2)
}

func TestStepIndexNeverDecreases(t *testing.T) {
	f := newFixture(t)
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH,
		textStep(), model.DelayStep(10), noteStep(), model.DelayStep(10), textStep(), noteStep()))
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]
	last := run.CurrentStepIndex
	for i := 0; i < 4; i++ {
		f.clock.Advance(time.Hour)
		run = f.claimAndExecute(t, run.Id)
		assert.GreaterOrEqual(t, run.CurrentStepIndex, last)
		last = run.CurrentStepIndex
	}
	assert.Equal(t, model.RUN_STATUS_COMPLETED, run.Status)
	assert.Len(t, run.History, 4)
}

func TestInactiveActionsAreSkipped(t *testing.T) {
	f := newFixture(t)
	inactive := textStep()
	inactive.IsActive = false
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH, model.DelayStep(10), inactive, model.DelayStep(20), noteStep()))

	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]
	assert.Equal(t, 3, run.CurrentStepIndex)
	assert.Equal(t, monday.Add(30*time.Minute), *run.ScheduledDispatchAt)

	f.clock.Advance(time.Hour)
	run = f.claimAndExecute(t, run.Id)
	assert.Equal(t, model.RUN_STATUS_COMPLETED, run.Status)
	require.Len(t, run.History, 1)
	assert.Equal(t, 3, run.History[0].StepIndex)
}

func TestWorkflowWithoutActionsCompletes(t *testing.T) {
	f := newFixture(t)
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH, model.DelayStep(10)))
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]
	assert.Equal(t, model.RUN_STATUS_COMPLETED, run.Status)
	assert.False(t, run.EverRan)
	assert.Len(t, f.listener.finished, 1)
}

func TestTimeInStageMeasuresFromStageEntry(t *testing.T) {
	f := newFixture(t)
	wf := newWorkflow("wf", model.EVENT_KIND_BOTH, model.DelayStep(60), textStep(), model.DelayStep(60), noteStep())
	wf.TimingMode = model.TIMING_MODE_TIME_IN_STAGE
	f.save(t, wf)

	entered := monday.Add(-30 * time.Minute)
	runs, err := f.engine.HandleTriggerEvent(context.Background(), model.TriggerEvent{
		EntityId: "deal-1", PipelineId: "sales", StageId: "proposal",
		EventKind: model.EVENT_KIND_MOVED, Timestamp: entered, Entity: entity,
	})
	require.NoError(t, err)
	run := runs[0]
	assert.Equal(t, entered.Add(60*time.Minute), *run.ScheduledDispatchAt)

	f.clock.Set(monday.Add(45 * time.Minute))
	run = f.claimAndExecute(t, run.Id)
	assert.Equal(t, entered.Add(120*time.Minute), *run.ScheduledDispatchAt)
	assert.Equal(t, 60, run.PendingDelayMinutes)
}

func TestDispatchFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH, noteStep(), model.DelayStep(10), textStep()))
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]
	run = f.claimAndExecute(t, run.Id)
	require.Equal(t, model.RUN_STATUS_WAITING, run.Status)

	f.caps.fail = errors.New("sms gateway down")
	f.clock.Advance(time.Hour)
	run = f.claimAndExecute(t, run.Id)
	assert.Equal(t, model.RUN_STATUS_FAILED, run.Status)
	assert.Contains(t, run.ErrorReason, "sms gateway down")
	assert.Equal(t, 2, run.CurrentStepIndex)
	require.Len(t, run.History, 2)
	assert.Equal(t, model.OUTCOME_SUCCESS, run.History[0].Outcome)
	assert.Equal(t, model.OUTCOME_FAILURE, run.History[1].Outcome)
}

func TestConfigurationErrorFailsOnlyThatRun(t *testing.T) {
	f := newFixture(t)
	broken := newWorkflow("broken", model.EVENT_KIND_BOTH, model.DelayStep(10), textStep())
	broken.SendRules.DaysOfWeek = nil
	f.save(t, broken)
	f.save(t, newWorkflow("fine", model.EVENT_KIND_BOTH, model.DelayStep(10), textStep()))

	runs := f.trigger(t, model.EVENT_KIND_CREATED, entity)
	require.Len(t, runs, 2)
	for _, run := range runs {
		if run.WorkflowId == "broken" {
			assert.Equal(t, model.RUN_STATUS_FAILED, run.Status)
			assert.Contains(t, run.ErrorReason, "weekday")
		} else {
			assert.Equal(t, model.RUN_STATUS_WAITING, run.Status)
		}
	}
}

func TestPausedWorkflowFreezesWaitingRuns(t *testing.T) {
	f := newFixture(t)
	wf := newWorkflow("wf", model.EVENT_KIND_BOTH, textStep())
	f.save(t, wf)
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]

	wf.Status = model.WORKFLOW_STATUS_PAUSED
	f.save(t, wf)

	ctx := context.Background()
	claimed, err := f.engine.Claim(ctx, run)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	stored, err := f.store.GetRun(ctx, run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RUN_STATUS_WAITING, stored.Status)
	assert.Equal(t, 0, stored.CurrentStepIndex)
	assert.Empty(t, f.caps.calls)

	assert.Empty(t, f.trigger(t, model.EVENT_KIND_CREATED, entity))
}

func TestLosingClaimantNoOps(t *testing.T) {
	f := newFixture(t)
	f.save(t, newWorkflow("wf", model.EVENT_KIND_BOTH, textStep()))
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]

	ctx := context.Background()
	first := run.Clone()
	second := run.Clone()
	wf, err := f.engine.Claim(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, wf)
	wf, err = f.engine.Claim(ctx, second)
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestResumePolicies(t *testing.T) {
	for name, tc := range map[string]struct {
		policy ResumePolicy
		want   time.Time
	}{
		"original keeps instant":         {RESUME_POLICY_ORIGINAL, monday.Add(time.Hour)},
		"reschedule from resume instant": {RESUME_POLICY_RESCHEDULE, time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, WithResumePolicy(tc.policy))
			wf := newWorkflow("wf", model.EVENT_KIND_BOTH, model.DelayStep(60), textStep())
			f.save(t, wf)
			run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]

			f.clock.Set(time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC))
			require.NoError(t, f.engine.OnWorkflowResumed(context.Background(), wf))

			stored, err := f.store.GetRun(context.Background(), run.Id)
			require.NoError(t, err)
			assert.Equal(t, model.RUN_STATUS_WAITING, stored.Status)
			assert.Equal(t, tc.want, *stored.ScheduledDispatchAt)
		})
	}
}

func TestRescheduleInStageUsesCurrentDelayOnly(t *testing.T) {
	f := newFixture(t, WithResumePolicy(RESUME_POLICY_RESCHEDULE))
	wf := newWorkflow("wf", model.EVENT_KIND_BOTH, model.DelayStep(60), textStep(), model.DelayStep(60), noteStep())
	wf.TimingMode = model.TIMING_MODE_TIME_IN_STAGE
	f.save(t, wf)
	run := f.trigger(t, model.EVENT_KIND_CREATED, entity)[0]

	f.clock.Advance(time.Hour)
	run = f.claimAndExecute(t, run.Id)
	require.Equal(t, 3, run.CurrentStepIndex)

	f.clock.Set(time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, f.engine.OnWorkflowResumed(context.Background(), wf))
	stored, err := f.store.GetRun(context.Background(), run.Id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC), *stored.ScheduledDispatchAt)
}

func TestParseResumePolicy(t *testing.T) {
	p, err := ParseResumePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RESUME_POLICY_ORIGINAL, p)
	_, err = ParseResumePolicy("later")
	assert.Error(t, err)
}
