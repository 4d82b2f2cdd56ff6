package trigger

import (
	"github.com/mohitkumar/autoflow/model"
)

// Matches reports whether ev starts a run of wf. Only active workflows scoped
// to the event's pipeline and stage match.
func Matches(wf *model.Workflow, ev model.TriggerEvent) bool {
	if wf == nil || !wf.IsActive() {
		return false
	}
	if wf.Trigger.PipelineId != ev.PipelineId || wf.Trigger.StageId != ev.StageId {
		return false
	}
	return wf.Trigger.EventKind == model.EVENT_KIND_BOTH || wf.Trigger.EventKind == ev.EventKind
}

// Match filters candidates down to the workflows ev triggers, keeping order.
func Match(candidates []*model.Workflow, ev model.TriggerEvent) []*model.Workflow {
	matched := make([]*model.Workflow, 0, len(candidates))
	for _, wf := range candidates {
		if Matches(wf, ev) {
			matched = append(matched, wf)
		}
	}
	return matched
}
