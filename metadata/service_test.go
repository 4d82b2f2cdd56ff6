package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence/memory"
	"github.com/mohitkumar/autoflow/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

func newService() *MetadataServiceImpl {
	return NewMetadataService(memory.NewStore(), action.NewRegistry(), util.NewFixedClock(now))
}

func validWorkflow() *model.Workflow {
	return &model.Workflow{
		Id:         "welcome",
		Name:       "Welcome",
		Status:     model.WORKFLOW_STATUS_ACTIVE,
		Trigger:    model.Trigger{PipelineId: "sales", StageId: "new", EventKind: model.EVENT_KIND_CREATED},
		TimingMode: model.TIMING_MODE_PREVIOUS_ACTION,
		SendRules: model.SendRules{
			BusinessHours: model.BusinessHours{StartHour: 8, EndHour: 20},
			DaysOfWeek:    []int{1, 2, 3, 4, 5},
		},
		Filters: []model.Filter{{FieldPath: "deal.value", Operator: "greater_than", Value: 100}},
		Steps: []model.Step{
			model.DelayStep(60),
			model.ActionStep(action.SEND_TEXT, map[string]any{"recipient": "{{contact.phone}}", "body": "hi"}),
		},
	}
}

func TestSaveWorkflow(t *testing.T) {
	s := newService()
	ctx := context.Background()
	require.NoError(t, s.SaveWorkflow(ctx, validWorkflow()))

	got, err := s.GetWorkflow(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)

	byStage, err := s.ListWorkflowsByStage(ctx, "sales", "new")
	require.NoError(t, err)
	assert.Len(t, byStage, 1)
}

func TestSaveDefaultsOmittedSendRules(t *testing.T) {
	s := newService()
	wf := validWorkflow()
	wf.SendRules = model.SendRules{}
	wf.Status = ""
	wf.TimingMode = ""
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, wf.SendRules.DaysOfWeek)
	assert.Equal(t, 24, wf.SendRules.BusinessHours.EndHour)
	assert.Equal(t, model.WORKFLOW_STATUS_DRAFT, wf.Status)
	assert.Equal(t, model.TIMING_MODE_PREVIOUS_ACTION, wf.TimingMode)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(wf *model.Workflow){
		"missing id":           func(wf *model.Workflow) { wf.Id = "" },
		"no weekdays":          func(wf *model.Workflow) { wf.SendRules.DaysOfWeek = nil; wf.SendRules.BusinessHours.StartHour = 9 },
		"start after end":      func(wf *model.Workflow) { wf.SendRules.BusinessHours = model.BusinessHours{StartHour: 18, EndHour: 9} },
		"weekday out of range": func(wf *model.Workflow) { wf.SendRules.DaysOfWeek = []int{7} },
		"unknown operator":     func(wf *model.Workflow) { wf.Filters[0].Operator = "matches" },
		"unknown action":       func(wf *model.Workflow) { wf.Steps[1].ActionType = "fax" },
		"negative delay":       func(wf *model.Workflow) { wf.Steps[0].DurationMinutes = -5 },
		"unknown step type":    func(wf *model.Workflow) { wf.Steps[0].Type = "branch" },
		"bad event kind":       func(wf *model.Workflow) { wf.Trigger.EventKind = "deleted" },
		"bad timing mode":      func(wf *model.Workflow) { wf.TimingMode = "whenever" },
		"missing stage":        func(wf *model.Workflow) { wf.Trigger.StageId = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := newService()
			wf := validWorkflow()
			mutate(wf)
			err := s.SaveWorkflow(context.Background(), wf)
			var ce model.ConfigurationError
			require.ErrorAs(t, err, &ce)
			_, err = s.GetWorkflow(context.Background(), "welcome")
			assert.Error(t, err)
		})
	}
}

func TestSaveAcceptsTemplatedTypedField(t *testing.T) {
	s := newService()
	wf := validWorkflow()
	wf.Steps = append(wf.Steps, model.ActionStep(action.CREATE_TASK, map[string]any{
		"title":        "Follow up with {{contact.name}}",
		"dueInMinutes": "{{deal.followUpMinutes}}",
	}))
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))

	wf.Steps[2].Config["dueInMinutes"] = "soon"
	var ce model.ConfigurationError
	require.ErrorAs(t, s.SaveWorkflow(context.Background(), wf), &ce)
}

func TestPauseResume(t *testing.T) {
	s := newService()
	ctx := context.Background()
	require.NoError(t, s.SaveWorkflow(ctx, validWorkflow()))

	var resumed []string
	s.OnResume(func(_ context.Context, wf *model.Workflow) error {
		resumed = append(resumed, wf.Id)
		return nil
	})

	_, err := s.Resume(ctx, "welcome")
	assert.Error(t, err)

	wf, err := s.Pause(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, model.WORKFLOW_STATUS_PAUSED, wf.Status)
	_, err = s.Pause(ctx, "welcome")
	assert.Error(t, err)
	assert.Empty(t, resumed)

	wf, err = s.Resume(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, model.WORKFLOW_STATUS_ACTIVE, wf.Status)
	assert.Equal(t, []string{"welcome"}, resumed)

	stored, err := s.GetWorkflow(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, model.WORKFLOW_STATUS_ACTIVE, stored.Status)
}

func TestResumeHookError(t *testing.T) {
	s := newService()
	ctx := context.Background()
	require.NoError(t, s.SaveWorkflow(ctx, validWorkflow()))
	_, err := s.Pause(ctx, "welcome")
	require.NoError(t, err)
	s.OnResume(func(context.Context, *model.Workflow) error { return errors.New("boom") })
	_, err = s.Resume(ctx, "welcome")
	assert.EqualError(t, err, "boom")
}
