package analytics

import (
	"context"
	"time"

	"github.com/mohitkumar/autoflow/flow"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/util"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var _ flow.RunListener = new(Service)

// Service serves snapshots computed on demand from the run store. With a
// positive ttl snapshots are cached until the ttl passes or one of the
// workflow's runs records an action or terminates.
type Service struct {
	runs      persistence.RunStore
	clock     util.Clock
	cache     *cache.Cache
	collector DataCollector
}

func NewService(runs persistence.RunStore, clock util.Clock, ttl time.Duration, collector DataCollector) *Service {
	s := &Service{
		runs:      runs,
		clock:     clock,
		collector: collector,
	}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

func (s *Service) GetAnalyticsSnapshot(ctx context.Context, workflowId string) (*model.AnalyticsSnapshot, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(workflowId); ok {
			return cached.(*model.AnalyticsSnapshot), nil
		}
	}
	runs, err := s.runs.ListByWorkflow(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	snapshot := Aggregate(workflowId, runs, s.clock.Now())
	if s.cache != nil {
		s.cache.SetDefault(workflowId, &snapshot)
	}
	return &snapshot, nil
}

func (s *Service) ActionExecuted(run *model.RunInstance, rec model.ExecutionRecord) {
	s.invalidate(run)
	if s.collector != nil {
		s.collector.RecordAction(run, rec)
	}
}

func (s *Service) RunFinished(run *model.RunInstance) {
	s.invalidate(run)
}

func (s *Service) invalidate(run *model.RunInstance) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(run.WorkflowId)
	logger.Debug("analytics invalidated", zap.String("workflow", run.WorkflowId), zap.String("status", string(run.Status)))
}
