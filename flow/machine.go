package flow

import (
	"time"

	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/schedule"
)

// Machine computes run transitions. It never persists; the Engine writes
// every transition through the run store's compare-and-set.
type Machine struct {
	resolver *schedule.Resolver
}

func NewMachine(resolver *schedule.Resolver) *Machine {
	return &Machine{resolver: resolver}
}

func (m *Machine) Resolver() *schedule.Resolver {
	return m.resolver
}

// nextAction finds the first active action at or after from. It returns the
// minutes of the delay steps between from and that action, and -1 when the
// timeline has no further action. Inactive actions are passed over and the
// delays around them keep accumulating.
func nextAction(wf *model.Workflow, from int) (int, int) {
	minutes := 0
	for i := from; i < len(wf.Steps); i++ {
		step := wf.Steps[i]
		switch step.Type {
		case model.STEP_TYPE_DELAY:
			minutes += step.DurationMinutes
		case model.STEP_TYPE_ACTION:
			if step.IsActive {
				return i, minutes
			}
		}
	}
	return -1, minutes
}

// delaysBefore sums every delay step ahead of index.
func delaysBefore(wf *model.Workflow, index int) int {
	minutes := 0
	for i := 0; i < index && i < len(wf.Steps); i++ {
		if wf.Steps[i].Type == model.STEP_TYPE_DELAY {
			minutes += wf.Steps[i].DurationMinutes
		}
	}
	return minutes
}

// Advance moves run to the next active action at or after from and resolves
// its dispatch instant, or completes the run when none is left. A
// configuration error fails the run. now is the instant of the transition.
func (m *Machine) Advance(run *model.RunInstance, wf *model.Workflow, from int, now time.Time) {
	if from < run.CurrentStepIndex {
		from = run.CurrentStepIndex
	}
	index, minutes := nextAction(wf, from)
	if index < 0 {
		m.Complete(run, now)
		return
	}

	reference := run.CreatedAt
	if run.LastActionAt != nil {
		reference = *run.LastActionAt
	}
	offset := minutes
	if wf.TimingMode == model.TIMING_MODE_TIME_IN_STAGE {
		reference = run.StageEnteredAt
		offset = delaysBefore(wf, index)
	}

	dispatchAt, err := m.resolver.Resolve(offset, reference, wf.SendRules)
	if err != nil {
		m.Fail(run, err.Error(), now)
		return
	}
	run.CurrentStepIndex = index
	run.PendingDelayMinutes = minutes
	run.ScheduledDispatchAt = &dispatchAt
	run.Status = model.RUN_STATUS_WAITING
}

// Reschedule resolves the pending wait again from reference. The pending wait
// is only the delay ahead of the current action in either timing mode.
func (m *Machine) Reschedule(run *model.RunInstance, wf *model.Workflow, reference time.Time) error {
	dispatchAt, err := m.resolver.Resolve(run.PendingDelayMinutes, reference, wf.SendRules)
	if err != nil {
		return err
	}
	run.ScheduledDispatchAt = &dispatchAt
	return nil
}

func (m *Machine) Claim(run *model.RunInstance) {
	run.Status = model.RUN_STATUS_RUNNING
	run.EverRan = true
	run.ScheduledDispatchAt = nil
}

func (m *Machine) Record(run *model.RunInstance, rec model.ExecutionRecord) {
	run.History = append(run.History, rec)
	if rec.Outcome == model.OUTCOME_SUCCESS {
		completed := rec.CompletedAt
		run.LastActionAt = &completed
	}
}

func (m *Machine) Complete(run *model.RunInstance, now time.Time) {
	run.Status = model.RUN_STATUS_COMPLETED
	run.ScheduledDispatchAt = nil
	run.CompletedAt = &now
}

func (m *Machine) Fail(run *model.RunInstance, reason string, now time.Time) {
	run.Status = model.RUN_STATUS_FAILED
	run.ErrorReason = reason
	run.ScheduledDispatchAt = nil
	run.CompletedAt = &now
}

func (m *Machine) Stop(run *model.RunInstance, condition string, now time.Time) {
	run.Status = model.RUN_STATUS_STOPPED
	run.StopReason = condition
	run.ScheduledDispatchAt = nil
	run.CompletedAt = &now
}
