package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/schedule"
	"github.com/mohitkumar/autoflow/trigger"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when pausing or resuming a workflow whose
// status does not allow it.
var ErrInvalidTransition = errors.New("invalid status transition")

// ResumeHook is called after a workflow goes from paused back to active.
type ResumeHook func(ctx context.Context, wf *model.Workflow) error

type MetadataService interface {
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]*model.Workflow, error)
	ListWorkflowsByStage(ctx context.Context, pipelineId string, stageId string) ([]*model.Workflow, error)
	Pause(ctx context.Context, id string) (*model.Workflow, error)
	Resume(ctx context.Context, id string) (*model.Workflow, error)
	ValidateWorkflow(wf *model.Workflow) error
	OnResume(hook ResumeHook)
}

type MetadataServiceImpl struct {
	storage  persistence.WorkflowStore
	registry *action.Registry
	clock    util.Clock
	mu       sync.Mutex
	hooks    []ResumeHook
}

var _ MetadataService = new(MetadataServiceImpl)

func NewMetadataService(storage persistence.WorkflowStore, registry *action.Registry, clock util.Clock) *MetadataServiceImpl {
	return &MetadataServiceImpl{
		storage:  storage,
		registry: registry,
		clock:    clock,
	}
}

func (s *MetadataServiceImpl) OnResume(hook ResumeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *MetadataServiceImpl) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	Normalize(wf)
	if err := s.ValidateWorkflow(wf); err != nil {
		return err
	}
	wf.UpdatedAt = s.clock.Now()
	return s.storage.SaveWorkflow(ctx, wf)
}

func (s *MetadataServiceImpl) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return s.storage.GetWorkflow(ctx, id)
}

func (s *MetadataServiceImpl) DeleteWorkflow(ctx context.Context, id string) error {
	return s.storage.DeleteWorkflow(ctx, id)
}

func (s *MetadataServiceImpl) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	return s.storage.ListWorkflows(ctx)
}

func (s *MetadataServiceImpl) ListWorkflowsByStage(ctx context.Context, pipelineId string, stageId string) ([]*model.Workflow, error) {
	return s.storage.ListWorkflowsByStage(ctx, pipelineId, stageId)
}

// Pause only affects active workflows. Waiting runs stay untouched and are
// held back at claim time.
func (s *MetadataServiceImpl) Pause(ctx context.Context, id string) (*model.Workflow, error) {
	wf, err := s.storage.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WORKFLOW_STATUS_ACTIVE {
		return nil, fmt.Errorf("%w: workflow %s is %s, only active workflows can be paused", ErrInvalidTransition, id, wf.Status)
	}
	wf.Status = model.WORKFLOW_STATUS_PAUSED
	wf.UpdatedAt = s.clock.Now()
	if err := s.storage.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	logger.Info("workflow paused", zap.String("workflow", id))
	return wf, nil
}

func (s *MetadataServiceImpl) Resume(ctx context.Context, id string) (*model.Workflow, error) {
	wf, err := s.storage.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WORKFLOW_STATUS_PAUSED {
		return nil, fmt.Errorf("%w: workflow %s is %s, only paused workflows can be resumed", ErrInvalidTransition, id, wf.Status)
	}
	wf.Status = model.WORKFLOW_STATUS_ACTIVE
	wf.UpdatedAt = s.clock.Now()
	if err := s.storage.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	logger.Info("workflow resumed", zap.String("workflow", id))

	s.mu.Lock()
	hooks := append([]ResumeHook(nil), s.hooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		if err := hook(ctx, wf); err != nil {
			logger.Error("resume hook failed", zap.String("workflow", id), zap.Error(err))
			return wf, err
		}
	}
	return wf, nil
}

// Normalize fills in send rules that were left out entirely, meaning every
// day and every hour is allowed.
func Normalize(wf *model.Workflow) {
	rules := &wf.SendRules
	if len(rules.DaysOfWeek) == 0 && rules.BusinessHours.StartHour == 0 && rules.BusinessHours.EndHour == 0 {
		rules.DaysOfWeek = []int{0, 1, 2, 3, 4, 5, 6}
		rules.BusinessHours.EndHour = 24
	}
	if wf.Status == "" {
		wf.Status = model.WORKFLOW_STATUS_DRAFT
	}
	if wf.TimingMode == "" {
		wf.TimingMode = model.TIMING_MODE_PREVIOUS_ACTION
	}
}

func (s *MetadataServiceImpl) ValidateWorkflow(wf *model.Workflow) error {
	configErr := func(format string, args ...any) error {
		return model.ConfigurationError{WorkflowId: wf.Id, Message: fmt.Sprintf(format, args...)}
	}
	if wf.Id == "" {
		return configErr("id is required")
	}
	switch wf.Status {
	case model.WORKFLOW_STATUS_DRAFT, model.WORKFLOW_STATUS_ACTIVE, model.WORKFLOW_STATUS_PAUSED:
	default:
		return configErr("invalid status %q", wf.Status)
	}
	if wf.Trigger.PipelineId == "" || wf.Trigger.StageId == "" {
		return configErr("trigger needs pipelineId and stageId")
	}
	switch wf.Trigger.EventKind {
	case model.EVENT_KIND_CREATED, model.EVENT_KIND_MOVED, model.EVENT_KIND_BOTH:
	default:
		return configErr("invalid trigger eventKind %q", wf.Trigger.EventKind)
	}
	switch wf.TimingMode {
	case model.TIMING_MODE_PREVIOUS_ACTION, model.TIMING_MODE_TIME_IN_STAGE:
	default:
		return configErr("invalid timingMode %q", wf.TimingMode)
	}
	if err := schedule.ValidateSendRules(wf.SendRules); err != nil {
		var ce model.ConfigurationError
		if errors.As(err, &ce) {
			return configErr("%s", ce.Message)
		}
		return configErr("%v", err)
	}
	for _, f := range wf.Filters {
		if f.FieldPath == "" {
			return configErr("filter without fieldPath")
		}
		if !trigger.IsOperator(f.Operator) {
			return configErr("unknown filter operator %q", f.Operator)
		}
	}
	for i, step := range wf.Steps {
		switch step.Type {
		case model.STEP_TYPE_DELAY:
			if step.DurationMinutes < 0 {
				return configErr("step %d: negative delay", i)
			}
		case model.STEP_TYPE_ACTION:
			if err := s.registry.Check(step); err != nil {
				return configErr("step %d: %v", i, err)
			}
		default:
			return configErr("step %d: unknown step type %q", i, step.Type)
		}
	}
	return nil
}
