package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/util"
)

var _ persistence.RunStore = new(Store)
var _ persistence.WorkflowStore = new(Store)

// Store keeps runs and workflow definitions in process memory. Values are
// copied in and out so callers never share state with the store.
type Store struct {
	mu        sync.Mutex
	runs      map[string]*model.RunInstance
	workflows map[string][]byte
	encDec    util.EncoderDecoder[model.Workflow]
}

func NewStore() *Store {
	return &Store{
		runs:      make(map[string]*model.RunInstance),
		workflows: make(map[string][]byte),
		encDec:    util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (s *Store) CreateRun(_ context.Context, run *model.RunInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.Id]; ok {
		return persistence.StorageLayerError{Message: "run " + run.Id + " already exists"}
	}
	s.runs[run.Id] = run.Clone()
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*model.RunInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return run.Clone(), nil
}

func (s *Store) UpdateRun(_ context.Context, run *model.RunInstance, expected model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.Id]
	if !ok {
		return persistence.ErrNotFound
	}
	if current.Status != expected || current.Version != run.Version {
		return persistence.ErrClaimConflict
	}
	run.Version++
	s.runs[run.Id] = run.Clone()
	return nil
}

func (s *Store) ListDue(_ context.Context, partition int, now time.Time, after *persistence.DueCursor, limit int) ([]*model.RunInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.RunInstance
	for _, run := range s.runs {
		if run.Partition != partition || !persistence.IsDue(run) || run.ScheduledDispatchAt.After(now) {
			continue
		}
		if !after.Precedes(*run.ScheduledDispatchAt, run.Id) {
			continue
		}
		due = append(due, run.Clone())
	}
	sort.Slice(due, func(i, j int) bool {
		return persistence.CursorOf(due[i]).Precedes(*due[j].ScheduledDispatchAt, due[j].Id)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ListByWorkflow(_ context.Context, workflowId string) ([]*model.RunInstance, error) {
	return s.filter(func(run *model.RunInstance) bool {
		return run.WorkflowId == workflowId
	}), nil
}

func (s *Store) ListWaitingByEntity(_ context.Context, entityId string) ([]*model.RunInstance, error) {
	return s.filter(func(run *model.RunInstance) bool {
		return run.EntityId == entityId && run.Status == model.RUN_STATUS_WAITING
	}), nil
}

func (s *Store) filter(keep func(*model.RunInstance) bool) []*model.RunInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RunInstance
	for _, run := range s.runs {
		if keep(run) {
			out = append(out, run.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) SaveWorkflow(_ context.Context, wf *model.Workflow) error {
	data, err := s.encDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.Id] = data
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	s.mu.Lock()
	data, ok := s.workflows[id]
	s.mu.Unlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return s.decode(data)
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

func (s *Store) ListWorkflowsByStage(ctx context.Context, pipelineId string, stageId string) ([]*model.Workflow, error) {
	all, err := s.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Workflow
	for _, wf := range all {
		if wf.Trigger.PipelineId == pipelineId && wf.Trigger.StageId == stageId {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *Store) ListWorkflows(_ context.Context) ([]*model.Workflow, error) {
	s.mu.Lock()
	encoded := make([][]byte, 0, len(s.workflows))
	for _, data := range s.workflows {
		encoded = append(encoded, data)
	}
	s.mu.Unlock()
	out := make([]*model.Workflow, 0, len(encoded))
	for _, data := range encoded {
		wf, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *Store) decode(data []byte) (*model.Workflow, error) {
	wf, err := s.encDec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}
