package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/autoflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

var ErrNotFound = errors.New("not found")

// ErrClaimConflict is returned by UpdateRun when the stored run no longer has
// the expected status or version. Callers treat it as a lost race.
var ErrClaimConflict = errors.New("claim conflict")

type RunStore interface {
	CreateRun(ctx context.Context, run *model.RunInstance) error
	GetRun(ctx context.Context, id string) (*model.RunInstance, error)
	// UpdateRun writes run only if the stored copy has status expected and the
	// same Version as run. On success run.Version is incremented.
	UpdateRun(ctx context.Context, run *model.RunInstance, expected model.RunStatus) error
	// ListDue returns waiting runs of a partition whose dispatch instant is at
	// or before now, ordered by dispatch instant then id. A non-nil after
	// resumes the listing past the run it names.
	ListDue(ctx context.Context, partition int, now time.Time, after *DueCursor, limit int) ([]*model.RunInstance, error)
	ListByWorkflow(ctx context.Context, workflowId string) ([]*model.RunInstance, error)
	ListWaitingByEntity(ctx context.Context, entityId string) ([]*model.RunInstance, error)
	Ping(ctx context.Context) error
}

type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflowsByStage(ctx context.Context, pipelineId string, stageId string) ([]*model.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*model.Workflow, error)
}

// DueCursor is the position of a run in the due order of a partition.
type DueCursor struct {
	DispatchAt time.Time
	RunId      string
}

func CursorOf(run *model.RunInstance) *DueCursor {
	return &DueCursor{DispatchAt: *run.ScheduledDispatchAt, RunId: run.Id}
}

// Precedes reports whether the run at (at, id) comes after the cursor.
// A nil cursor precedes everything.
func (c *DueCursor) Precedes(at time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !at.Equal(c.DispatchAt) {
		return at.After(c.DispatchAt)
	}
	return id > c.RunId
}

// IsDue reports whether run belongs in a due index.
func IsDue(run *model.RunInstance) bool {
	return run.Status == model.RUN_STATUS_WAITING && run.ScheduledDispatchAt != nil
}
