package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/metrics"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/trigger"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
)

type ResumePolicy string

const RESUME_POLICY_ORIGINAL ResumePolicy = "original"
const RESUME_POLICY_RESCHEDULE ResumePolicy = "reschedule"

func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch ResumePolicy(s) {
	case RESUME_POLICY_ORIGINAL, RESUME_POLICY_RESCHEDULE:
		return ResumePolicy(s), nil
	case "":
		return RESUME_POLICY_ORIGINAL, nil
	}
	return "", fmt.Errorf("unknown resume policy %q", s)
}

// EntityResolver fetches a fresh entity snapshot before an action runs.
type EntityResolver interface {
	Resolve(ctx context.Context, entityId string) (map[string]any, error)
}

// Engine owns the run lifecycle: it creates runs from trigger events,
// executes claimed runs and stops waiting runs on condition events.
type Engine struct {
	workflows    persistence.WorkflowStore
	runs         persistence.RunStore
	machine      *Machine
	dispatcher   *action.Dispatcher
	partitioner  Partitioner
	clock        util.Clock
	metrics      *metrics.Metrics
	resumePolicy ResumePolicy
	entities     EntityResolver
	mu           sync.RWMutex
	listeners    []RunListener
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithResumePolicy(p ResumePolicy) Option {
	return func(e *Engine) {
		e.resumePolicy = p
	}
}

func WithEntityResolver(r EntityResolver) Option {
	return func(e *Engine) {
		e.entities = r
	}
}

func WithPartitioner(p Partitioner) Option {
	return func(e *Engine) {
		e.partitioner = p
	}
}

func NewEngine(workflows persistence.WorkflowStore, runs persistence.RunStore, machine *Machine,
	dispatcher *action.Dispatcher, clock util.Clock, opts ...Option) *Engine {
	e := &Engine{
		workflows:    workflows,
		runs:         runs,
		machine:      machine,
		dispatcher:   dispatcher,
		partitioner:  SinglePartition(0),
		clock:        clock,
		resumePolicy: RESUME_POLICY_ORIGINAL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) AddListener(l RunListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) Runs() persistence.RunStore {
	return e.runs
}

func (e *Engine) Workflows() persistence.WorkflowStore {
	return e.workflows
}

func (e *Engine) Dispatcher() *action.Dispatcher {
	return e.dispatcher
}

// HandleTriggerEvent creates one run per active, matching workflow whose
// filters pass for the event's entity.
func (e *Engine) HandleTriggerEvent(ctx context.Context, ev model.TriggerEvent) ([]*model.RunInstance, error) {
	candidates, err := e.workflows.ListWorkflowsByStage(ctx, ev.PipelineId, ev.StageId)
	if err != nil {
		return nil, err
	}
	created := make([]*model.RunInstance, 0)
	for _, wf := range trigger.Match(candidates, ev) {
		pass, _ := trigger.Evaluate(wf.Filters, ev.Entity)
		if !pass {
			logger.Debug("filters rejected entity", zap.String("workflow", wf.Id), zap.String("entity", ev.EntityId))
			continue
		}
		run, err := e.createRun(ctx, wf, ev)
		if err != nil {
			return created, err
		}
		created = append(created, run)
	}
	return created, nil
}

func (e *Engine) createRun(ctx context.Context, wf *model.Workflow, ev model.TriggerEvent) (*model.RunInstance, error) {
	now := e.clock.Now()
	stageEntered := ev.Timestamp
	if stageEntered.IsZero() {
		stageEntered = now
	}
	id := uuid.NewString()
	run := &model.RunInstance{
		Id:             id,
		WorkflowId:     wf.Id,
		EntityId:       ev.EntityId,
		Status:         model.RUN_STATUS_PENDING,
		CreatedAt:      now,
		StageEnteredAt: stageEntered,
		Partition:      e.partitioner.GetPartition(id),
		History:        []model.ExecutionRecord{},
		Entity:         ev.Entity,
	}
	e.machine.Advance(run, wf, 0, now)
	if err := e.runs.CreateRun(ctx, run); err != nil {
		logger.Error("error while creating run", zap.String("workflow", wf.Id), zap.String("entity", ev.EntityId), zap.Error(err))
		return nil, err
	}
	e.metrics.RunCreated(wf.Id)
	logger.Info("run created", zap.String("workflow", wf.Id), zap.String("runId", run.Id),
		zap.String("entity", run.EntityId), zap.String("status", string(run.Status)))
	if run.Status.IsTerminal() {
		e.finished(run)
	}
	return run, nil
}

// Claim moves a due waiting run to running. It returns the run's workflow,
// or nil when the run was not claimed: the workflow is not active, or
// another claimant or a stop got there first.
func (e *Engine) Claim(ctx context.Context, run *model.RunInstance) (*model.Workflow, error) {
	wf, err := e.workflows.GetWorkflow(ctx, run.WorkflowId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, e.failOrphan(ctx, run)
		}
		return nil, err
	}
	if !wf.IsActive() {
		e.metrics.PausedSkip()
		return nil, nil
	}
	e.machine.Claim(run)
	if err := e.runs.UpdateRun(ctx, run, model.RUN_STATUS_WAITING); err != nil {
		if errors.Is(err, persistence.ErrClaimConflict) {
			e.metrics.ClaimConflict()
			logger.Debug("claim lost", zap.String("runId", run.Id))
			return nil, nil
		}
		return nil, err
	}
	e.metrics.RunClaimed()
	return wf, nil
}

func (e *Engine) failOrphan(ctx context.Context, run *model.RunInstance) error {
	e.machine.Fail(run, "workflow "+run.WorkflowId+" no longer exists", e.clock.Now())
	if err := e.runs.UpdateRun(ctx, run, model.RUN_STATUS_WAITING); err != nil {
		if errors.Is(err, persistence.ErrClaimConflict) {
			return nil
		}
		return err
	}
	e.finished(run)
	return nil
}

// ExecuteClaimed dispatches the current action of a claimed run and persists
// the outcome. ctx bounds the capability call only; the outcome is written
// even when ctx has expired.
func (e *Engine) ExecuteClaimed(ctx context.Context, run *model.RunInstance, wf *model.Workflow) error {
	if run.CurrentStepIndex >= len(wf.Steps) || wf.Steps[run.CurrentStepIndex].Type != model.STEP_TYPE_ACTION {
		return e.FailClaimed(ctx, run, model.ConfigurationError{
			WorkflowId: wf.Id,
			Message:    fmt.Sprintf("step %d is not an action", run.CurrentStepIndex),
		}.Error())
	}
	step := wf.Steps[run.CurrentStepIndex]

	entity := run.Entity
	if e.entities != nil {
		fresh, err := e.entities.Resolve(ctx, run.EntityId)
		if err != nil {
			logger.Warn("entity lookup failed, using snapshot", zap.String("entity", run.EntityId), zap.Error(err))
		} else {
			entity = fresh
		}
	}

	out, err := e.dispatcher.Dispatch(ctx, step, run.EntityId, entity)
	rec := model.ExecutionRecord{
		StepIndex:       run.CurrentStepIndex,
		ActionType:      step.ActionType,
		AttemptedAt:     out.AttemptedAt,
		CompletedAt:     out.CompletedAt,
		DurationSeconds: out.CompletedAt.Sub(out.AttemptedAt).Seconds(),
		ExternalId:      out.ExternalId,
		Outcome:         model.OUTCOME_SUCCESS,
	}
	if err != nil {
		rec.Outcome = model.OUTCOME_FAILURE
		rec.ErrorReason = err.Error()
	}
	e.metrics.Dispatched(step.ActionType, string(rec.Outcome), out.CompletedAt.Sub(out.AttemptedAt))
	e.machine.Record(run, rec)

	now := e.clock.Now()
	if err != nil {
		logger.Error("action dispatch failed", zap.String("workflow", wf.Id), zap.String("runId", run.Id),
			zap.String("action", step.ActionType), zap.Error(err))
		e.machine.Fail(run, err.Error(), now)
	} else {
		e.machine.Advance(run, wf, run.CurrentStepIndex+1, now)
	}
	if err := e.runs.UpdateRun(context.WithoutCancel(ctx), run, model.RUN_STATUS_RUNNING); err != nil {
		logger.Error("error while saving run", zap.String("runId", run.Id), zap.Error(err))
		return err
	}
	e.executed(run, rec)
	if run.Status.IsTerminal() {
		e.finished(run)
	}
	return nil
}

// FailClaimed terminates a running run without dispatching, e.g. after a
// panic in its dispatch goroutine.
func (e *Engine) FailClaimed(ctx context.Context, run *model.RunInstance, reason string) error {
	e.machine.Fail(run, reason, e.clock.Now())
	if err := e.runs.UpdateRun(context.WithoutCancel(ctx), run, model.RUN_STATUS_RUNNING); err != nil {
		logger.Error("error while failing run", zap.String("runId", run.Id), zap.Error(err))
		return err
	}
	e.finished(run)
	return nil
}

// OnWorkflowResumed applies the resume policy to the waiting runs of wf.
func (e *Engine) OnWorkflowResumed(ctx context.Context, wf *model.Workflow) error {
	if e.resumePolicy != RESUME_POLICY_RESCHEDULE {
		return nil
	}
	runs, err := e.runs.ListByWorkflow(ctx, wf.Id)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	for _, run := range runs {
		if run.Status != model.RUN_STATUS_WAITING {
			continue
		}
		if err := e.machine.Reschedule(run, wf, now); err != nil {
			e.machine.Fail(run, err.Error(), now)
		}
		if err := e.runs.UpdateRun(ctx, run, model.RUN_STATUS_WAITING); err != nil {
			if errors.Is(err, persistence.ErrClaimConflict) {
				continue
			}
			return err
		}
		if run.Status.IsTerminal() {
			e.finished(run)
		}
	}
	logger.Info("waiting runs rescheduled", zap.String("workflow", wf.Id))
	return nil
}

func (e *Engine) executed(run *model.RunInstance, rec model.ExecutionRecord) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners {
		l.ActionExecuted(run, rec)
	}
}

func (e *Engine) finished(run *model.RunInstance) {
	e.metrics.RunFinished(string(run.Status))
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners {
		l.RunFinished(run)
	}
}
