package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
)

type Config struct {
	URL      string
	MaxConns int32
}

var _ persistence.RunStore = new(Store)
var _ persistence.WorkflowStore = new(Store)

// Store persists runs and definitions as JSONB rows. The columns next to the
// payload exist only to index and to guard the compare-and-set.
type Store struct {
	db        *pgxpool.Pool
	runEncDec util.EncoderDecoder[model.RunInstance]
	wfEncDec  util.EncoderDecoder[model.Workflow]
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:        db,
		runEncDec: util.NewJsonEncoderDecoder[model.RunInstance](),
		wfEncDec:  util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, conf Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(conf.URL)
	if err != nil {
		return nil, err
	}
	if conf.MaxConns > 0 {
		poolConfig.MaxConns = conf.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	store := NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		logger.Error("error while applying schema", zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) CreateRun(ctx context.Context, run *model.RunInstance) error {
	payload, err := s.runEncDec.Encode(*run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO automation_runs (id, workflow_id, entity_id, status, partition_id, scheduled_dispatch_at, version, created_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.Id, run.WorkflowId, run.EntityId, string(run.Status), run.Partition, run.ScheduledDispatchAt, run.Version, run.CreatedAt, payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return persistence.StorageLayerError{Message: "run " + run.Id + " already exists"}
		}
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.RunInstance, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM automation_runs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.decodeRun(payload)
}

func (s *Store) UpdateRun(ctx context.Context, run *model.RunInstance, expected model.RunStatus) error {
	next := run.Clone()
	next.Version++
	payload, err := s.runEncDec.Encode(*next)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE automation_runs
		 SET status = $1, scheduled_dispatch_at = $2, version = $3, payload = $4
		 WHERE id = $5 AND status = $6 AND version = $7`,
		string(next.Status), next.ScheduledDispatchAt, next.Version, payload, run.Id, string(expected), run.Version)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM automation_runs WHERE id = $1)`, run.Id).Scan(&exists); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		if !exists {
			return persistence.ErrNotFound
		}
		return persistence.ErrClaimConflict
	}
	run.Version = next.Version
	return nil
}

func (s *Store) ListDue(ctx context.Context, partition int, now time.Time, after *persistence.DueCursor, limit int) ([]*model.RunInstance, error) {
	if limit <= 0 {
		limit = 1000
	}
	if after == nil {
		return s.queryRuns(ctx,
			`SELECT payload FROM automation_runs
			 WHERE partition_id = $1 AND status = 'waiting' AND scheduled_dispatch_at IS NOT NULL AND scheduled_dispatch_at <= $2
			 ORDER BY scheduled_dispatch_at, id LIMIT $3`,
			partition, now, limit)
	}
	return s.queryRuns(ctx,
		`SELECT payload FROM automation_runs
		 WHERE partition_id = $1 AND status = 'waiting' AND scheduled_dispatch_at IS NOT NULL AND scheduled_dispatch_at <= $2
		   AND (scheduled_dispatch_at, id) > ($3::timestamptz, $4::text)
		 ORDER BY scheduled_dispatch_at, id LIMIT $5`,
		partition, now, after.DispatchAt, after.RunId, limit)
}

func (s *Store) ListByWorkflow(ctx context.Context, workflowId string) ([]*model.RunInstance, error) {
	return s.queryRuns(ctx,
		`SELECT payload FROM automation_runs WHERE workflow_id = $1 ORDER BY created_at, id`, workflowId)
}

func (s *Store) ListWaitingByEntity(ctx context.Context, entityId string) ([]*model.RunInstance, error) {
	return s.queryRuns(ctx,
		`SELECT payload FROM automation_runs WHERE entity_id = $1 AND status = 'waiting' ORDER BY created_at, id`, entityId)
}

func (s *Store) queryRuns(ctx context.Context, sql string, args ...any) ([]*model.RunInstance, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()

	runs := make([]*model.RunInstance, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		run, err := s.decodeRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return runs, nil
}

func (s *Store) decodeRun(payload []byte) (*model.RunInstance, error) {
	run, err := s.runEncDec.Decode(payload)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return run, nil
}

func (s *Store) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	payload, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO automation_workflows (id, pipeline_id, stage_id, status, payload, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE SET pipeline_id = EXCLUDED.pipeline_id, stage_id = EXCLUDED.stage_id,
		 status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = now()`,
		wf.Id, wf.Trigger.PipelineId, wf.Trigger.StageId, string(wf.Status), payload)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM automation_workflows WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.decodeWorkflow(payload)
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM automation_workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) ListWorkflowsByStage(ctx context.Context, pipelineId string, stageId string) ([]*model.Workflow, error) {
	return s.queryWorkflows(ctx,
		`SELECT payload FROM automation_workflows WHERE pipeline_id = $1 AND stage_id = $2 ORDER BY id`, pipelineId, stageId)
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	return s.queryWorkflows(ctx, `SELECT payload FROM automation_workflows ORDER BY id`)
}

func (s *Store) queryWorkflows(ctx context.Context, sql string, args ...any) ([]*model.Workflow, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()

	out := make([]*model.Workflow, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		wf, err := s.decodeWorkflow(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return out, nil
}

func (s *Store) decodeWorkflow(payload []byte) (*model.Workflow, error) {
	wf, err := s.wfEncDec.Decode(payload)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}
