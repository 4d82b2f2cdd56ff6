package trigger

import (
	"testing"
	"time"

	"github.com/mohitkumar/autoflow/model"
	"github.com/stretchr/testify/assert"
)

func workflow(id string, status model.WorkflowStatus, kind model.EventKind) *model.Workflow {
	return &model.Workflow{
		Id:      id,
		Status:  status,
		Trigger: model.Trigger{PipelineId: "sales", StageId: "proposal", EventKind: kind},
	}
}

func ids(wfs []*model.Workflow) []string {
	out := make([]string, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, wf.Id)
	}
	return out
}

func TestMatchByEventKind(t *testing.T) {
	created := workflow("created", model.WORKFLOW_STATUS_ACTIVE, model.EVENT_KIND_CREATED)
	moved := workflow("moved", model.WORKFLOW_STATUS_ACTIVE, model.EVENT_KIND_MOVED)
	both := workflow("both", model.WORKFLOW_STATUS_ACTIVE, model.EVENT_KIND_BOTH)
	all := []*model.Workflow{created, moved, both}

	ev := model.TriggerEvent{EntityId: "d1", PipelineId: "sales", StageId: "proposal", EventKind: model.EVENT_KIND_MOVED, Timestamp: time.Now()}
	assert.Equal(t, []string{"moved", "both"}, ids(Match(all, ev)))

	ev.EventKind = model.EVENT_KIND_CREATED
	assert.Equal(t, []string{"created", "both"}, ids(Match(all, ev)))
}

func TestMatchRequiresActiveAndScope(t *testing.T) {
	ev := model.TriggerEvent{EntityId: "d1", PipelineId: "sales", StageId: "proposal", EventKind: model.EVENT_KIND_CREATED}
	assert.False(t, Matches(workflow("w", model.WORKFLOW_STATUS_DRAFT, model.EVENT_KIND_BOTH), ev))
	assert.False(t, Matches(workflow("w", model.WORKFLOW_STATUS_PAUSED, model.EVENT_KIND_BOTH), ev))
	assert.True(t, Matches(workflow("w", model.WORKFLOW_STATUS_ACTIVE, model.EVENT_KIND_BOTH), ev))

	other := ev
	other.StageId = "negotiation"
	assert.False(t, Matches(workflow("w", model.WORKFLOW_STATUS_ACTIVE, model.EVENT_KIND_BOTH), other))
	assert.False(t, Matches(nil, ev))
}
