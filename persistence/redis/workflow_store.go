package redis

import (
	"context"
	"errors"
	"sort"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
)

const WORKFLOW_KEY string = "WORKFLOW"
const STAGE_KEY string = "STAGE"

var _ persistence.WorkflowStore = new(Store)

func (r *Store) stageKey(pipelineId string, stageId string) string {
	return r.getNamespaceKey(STAGE_KEY, pipelineId, stageId)
}

func (r *Store) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	data, err := r.wfEncDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	previous, err := r.GetWorkflow(ctx, wf.Id)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		if previous != nil {
			pipe.SRem(ctx, r.stageKey(previous.Trigger.PipelineId, previous.Trigger.StageId), wf.Id)
		}
		pipe.HSet(ctx, r.getNamespaceKey(WORKFLOW_KEY), wf.Id, string(data))
		pipe.SAdd(ctx, r.stageKey(wf.Trigger.PipelineId, wf.Trigger.StageId), wf.Id)
		return nil
	})
	return storageError(err)
}

func (r *Store) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	data, err := r.redisClient.HGet(ctx, r.getNamespaceKey(WORKFLOW_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrNotFound
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.decodeWorkflow(data)
}

func (r *Store) decodeWorkflow(data string) (*model.Workflow, error) {
	wf, err := r.wfEncDec.Decode([]byte(data))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}

func (r *Store) DeleteWorkflow(ctx context.Context, id string) error {
	wf, err := r.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HDel(ctx, r.getNamespaceKey(WORKFLOW_KEY), id)
		pipe.SRem(ctx, r.stageKey(wf.Trigger.PipelineId, wf.Trigger.StageId), id)
		return nil
	})
	return storageError(err)
}

func (r *Store) ListWorkflowsByStage(ctx context.Context, pipelineId string, stageId string) ([]*model.Workflow, error) {
	ids, err := r.redisClient.SMembers(ctx, r.stageKey(pipelineId, stageId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(ids) == 0 {
		return []*model.Workflow{}, nil
	}
	values, err := r.redisClient.HMGet(ctx, r.getNamespaceKey(WORKFLOW_KEY), ids...).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.Workflow, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		wf, err := r.decodeWorkflow(s)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (r *Store) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	values, err := r.redisClient.HVals(ctx, r.getNamespaceKey(WORKFLOW_KEY)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.Workflow, 0, len(values))
	for _, v := range values {
		wf, err := r.decodeWorkflow(v)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}
