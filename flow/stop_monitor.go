package flow

import (
	"context"
	"errors"

	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"go.uber.org/zap"
)

// HandleConditionEvent stops every waiting run of the event's entity whose
// workflow lists the condition. Runs already claimed are left alone: the
// compare-and-set against waiting fails for them.
func (e *Engine) HandleConditionEvent(ctx context.Context, ev model.ConditionEvent) ([]*model.RunInstance, error) {
	waiting, err := e.runs.ListWaitingByEntity(ctx, ev.EntityId)
	if err != nil {
		return nil, err
	}
	workflows := make(map[string]*model.Workflow)
	stopped := make([]*model.RunInstance, 0)
	for _, run := range waiting {
		wf, ok := workflows[run.WorkflowId]
		if !ok {
			wf, err = e.workflows.GetWorkflow(ctx, run.WorkflowId)
			if err != nil && !errors.Is(err, persistence.ErrNotFound) {
				return stopped, err
			}
			workflows[run.WorkflowId] = wf
		}
		if wf == nil || !wf.HasStopCondition(ev.ConditionKey) {
			continue
		}
		e.machine.Stop(run, ev.ConditionKey, e.clock.Now())
		if err := e.runs.UpdateRun(ctx, run, model.RUN_STATUS_WAITING); err != nil {
			if errors.Is(err, persistence.ErrClaimConflict) {
				logger.Debug("run left waiting before stop", zap.String("runId", run.Id))
				continue
			}
			return stopped, err
		}
		e.metrics.RunStopped(ev.ConditionKey)
		logger.Info("run stopped", zap.String("workflow", run.WorkflowId), zap.String("runId", run.Id),
			zap.String("condition", ev.ConditionKey))
		e.finished(run)
		stopped = append(stopped, run)
	}
	return stopped, nil
}
