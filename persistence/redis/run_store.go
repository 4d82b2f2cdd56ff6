package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
)

const RUN_KEY string = "RUN"
const DUE_KEY string = "DUE"
const WORKFLOW_RUNS_KEY string = "WFRUNS"
const WAITING_KEY string = "WAITING"

var _ persistence.RunStore = new(Store)

// Store keeps each run as a JSON string under its own key so a claim can
// WATCH exactly one run. Due runs sit in a per-partition sorted set scored by
// dispatch instant in unix millis.
type Store struct {
	*baseDao
	runEncDec util.EncoderDecoder[model.RunInstance]
	wfEncDec  util.EncoderDecoder[model.Workflow]
}

func NewStore(conf Config) *Store {
	return &Store{
		baseDao:   newBaseDao(conf),
		runEncDec: util.NewJsonEncoderDecoder[model.RunInstance](),
		wfEncDec:  util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (r *Store) runKey(id string) string {
	return r.getNamespaceKey(RUN_KEY, id)
}

func (r *Store) dueKey(partition int) string {
	return r.getNamespaceKey(DUE_KEY, strconv.Itoa(partition))
}

func (r *Store) workflowRunsKey(workflowId string) string {
	return r.getNamespaceKey(WORKFLOW_RUNS_KEY, workflowId)
}

func (r *Store) waitingKey(entityId string) string {
	return r.getNamespaceKey(WAITING_KEY, entityId)
}

func (r *Store) CreateRun(ctx context.Context, run *model.RunInstance) error {
	data, err := r.runEncDec.Encode(*run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	created, err := r.redisClient.SetNX(ctx, r.runKey(run.Id), data, 0).Result()
	if err != nil {
		logger.Error("error while creating run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !created {
		return persistence.StorageLayerError{Message: "run " + run.Id + " already exists"}
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.SAdd(ctx, r.workflowRunsKey(run.WorkflowId), run.Id)
		r.index(ctx, pipe, run)
		return nil
	})
	return storageError(err)
}

func (r *Store) index(ctx context.Context, pipe rd.Pipeliner, run *model.RunInstance) {
	if persistence.IsDue(run) {
		pipe.ZAdd(ctx, r.dueKey(run.Partition), rd.Z{
			Score:  float64(run.ScheduledDispatchAt.UnixMilli()),
			Member: run.Id,
		})
	} else {
		pipe.ZRem(ctx, r.dueKey(run.Partition), run.Id)
	}
	if run.Status == model.RUN_STATUS_WAITING {
		pipe.SAdd(ctx, r.waitingKey(run.EntityId), run.Id)
	} else {
		pipe.SRem(ctx, r.waitingKey(run.EntityId), run.Id)
	}
}

func (r *Store) GetRun(ctx context.Context, id string) (*model.RunInstance, error) {
	data, err := r.redisClient.Get(ctx, r.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrNotFound
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.decodeRun(data)
}

func (r *Store) decodeRun(data []byte) (*model.RunInstance, error) {
	run, err := r.runEncDec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return run, nil
}

func (r *Store) UpdateRun(ctx context.Context, run *model.RunInstance, expected model.RunStatus) error {
	key := r.runKey(run.Id)
	next := run.Clone()
	next.Version++
	data, err := r.runEncDec.Encode(*next)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	err = r.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return persistence.ErrNotFound
			}
			return err
		}
		current, err := r.decodeRun(stored)
		if err != nil {
			return err
		}
		if current.Status != expected || current.Version != run.Version {
			return persistence.ErrClaimConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			r.index(ctx, pipe, next)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, rd.TxFailedErr) {
		return persistence.ErrClaimConflict
	}
	if err != nil {
		return storageError(err)
	}
	run.Version = next.Version
	return nil
}

// ListDue walks the due set in score then member order. Entries whose run
// is gone or no longer waiting are skipped and the walk continues, so a page
// is short only when the set is exhausted.
func (r *Store) ListDue(ctx context.Context, partition int, now time.Time, after *persistence.DueCursor, limit int) ([]*model.RunInstance, error) {
	lower := "-inf"
	var afterScore float64
	if after != nil {
		afterScore = float64(after.DispatchAt.UnixMilli())
		lower = strconv.FormatInt(after.DispatchAt.UnixMilli(), 10)
	}
	upper := strconv.FormatInt(now.UnixMilli(), 10)

	due := make([]*model.RunInstance, 0)
	var offset int64
	for {
		opt := &rd.ZRangeBy{Min: lower, Max: upper}
		if limit > 0 {
			opt.Offset = offset
			opt.Count = int64(limit)
		}
		entries, err := r.redisClient.ZRangeByScoreWithScores(ctx, r.dueKey(partition), opt).Result()
		if err != nil && !errors.Is(err, rd.Nil) {
			logger.Error("error while polling due runs", zap.Int("partition", partition), zap.Error(err))
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		ids := make([]string, 0, len(entries))
		for _, z := range entries {
			id, _ := z.Member.(string)
			if after != nil && z.Score == afterScore && id <= after.RunId {
				continue
			}
			ids = append(ids, id)
		}
		runs, err := r.getRuns(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			if !persistence.IsDue(run) || run.ScheduledDispatchAt.After(now) {
				continue
			}
			due = append(due, run)
			if limit > 0 && len(due) == limit {
				return due, nil
			}
		}
		if limit <= 0 || len(entries) < limit {
			return due, nil
		}
		offset += int64(len(entries))
	}
}

func (r *Store) ListByWorkflow(ctx context.Context, workflowId string) ([]*model.RunInstance, error) {
	ids, err := r.redisClient.SMembers(ctx, r.workflowRunsKey(workflowId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	runs, err := r.getRuns(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByCreation(runs)
	return runs, nil
}

func (r *Store) ListWaitingByEntity(ctx context.Context, entityId string) ([]*model.RunInstance, error) {
	ids, err := r.redisClient.SMembers(ctx, r.waitingKey(entityId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	runs, err := r.getRuns(ctx, ids)
	if err != nil {
		return nil, err
	}
	waiting := runs[:0]
	for _, run := range runs {
		if run.Status == model.RUN_STATUS_WAITING {
			waiting = append(waiting, run)
		}
	}
	sortByCreation(waiting)
	return waiting, nil
}

// getRuns keeps the order of ids and silently drops ids whose key is gone.
func (r *Store) getRuns(ctx context.Context, ids []string) ([]*model.RunInstance, error) {
	if len(ids) == 0 {
		return []*model.RunInstance{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.runKey(id))
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	runs := make([]*model.RunInstance, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		run, err := r.decodeRun([]byte(s))
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func sortByCreation(runs []*model.RunInstance) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].Id < runs[j].Id
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}
