package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/autoflow/flow"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/metrics"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/util"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	TickInterval    time.Duration
	DispatchTimeout time.Duration
	Capacity        int
	BatchSize       int
}

// PartitionSource lists the partitions this node polls.
type PartitionSource interface {
	GetPartitions() []int
}

var _ Executor = new(Scheduler)

// Scheduler promotes due runs. One tick worker polls the owned partitions,
// claims as many due runs as there are free dispatch slots and hands each
// claimed run to its own goroutine. The loop never waits for a dispatch.
type Scheduler struct {
	engine     *flow.Engine
	runs       persistence.RunStore
	partitions PartitionSource
	clock      util.Clock
	metrics    *metrics.Metrics
	config     Config
	slots      *semaphore.Weighted
	wg         *sync.WaitGroup
	inflight   sync.WaitGroup
	tw         *util.TickWorker
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewScheduler(engine *flow.Engine, partitions PartitionSource, clock util.Clock, m *metrics.Metrics, config Config, wg *sync.WaitGroup) *Scheduler {
	if config.Capacity <= 0 {
		config.Capacity = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = config.Capacity
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine:     engine,
		runs:       engine.Runs(),
		partitions: partitions,
		clock:      clock,
		metrics:    m,
		config:     config,
		slots:      semaphore.NewWeighted(int64(config.Capacity)),
		wg:         wg,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.tw = util.NewTickWorker(s.Name(), config.TickInterval, func() { s.Poll() }, wg)
	return s
}

func (s *Scheduler) Name() string {
	return "run-scheduler"
}

func (s *Scheduler) Start() error {
	s.tw.Start()
	logger.Info("scheduler started", zap.Int("capacity", s.config.Capacity), zap.Duration("dispatchTimeout", s.config.DispatchTimeout))
	return nil
}

// Stop halts polling and waits for in-flight dispatches to finish. The tick
// worker has exited before the wait starts.
func (s *Scheduler) Stop() error {
	s.tw.Stop()
	s.inflight.Wait()
	s.cancel()
	logger.Info("scheduler stopped")
	return nil
}

// Wait blocks until every dispatch started so far has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Poll runs one scheduling pass and returns how many runs it claimed. Each
// partition is paged through until the free slots are filled or no due run
// is left, so runs of paused workflows never hide runs behind them.
func (s *Scheduler) Poll() int {
	claimed := 0
	now := s.clock.Now()
	for _, partition := range s.partitions.GetPartitions() {
		n, full := s.pollPartition(partition, now)
		claimed += n
		if full {
			break
		}
	}
	return claimed
}

func (s *Scheduler) pollPartition(partition int, now time.Time) (int, bool) {
	claimed := 0
	var cursor *persistence.DueCursor
	for {
		due, err := s.runs.ListDue(s.ctx, partition, now, cursor, s.config.BatchSize)
		if err != nil {
			logger.Error("error while polling due runs", zap.Int("partition", partition), zap.Error(err))
			return claimed, false
		}
		for _, run := range due {
			if !s.slots.TryAcquire(1) {
				return claimed, true
			}
			cursor = persistence.CursorOf(run)
			wf, err := s.engine.Claim(s.ctx, run)
			if err != nil {
				logger.Error("error while claiming run", zap.String("runId", run.Id), zap.Error(err))
			}
			if wf == nil {
				s.slots.Release(1)
				continue
			}
			claimed++
			s.inflight.Add(1)
			go s.dispatch(run, wf)
		}
		if len(due) < s.config.BatchSize {
			return claimed, false
		}
	}
}

func (s *Scheduler) dispatch(run *model.RunInstance, wf *model.Workflow) {
	s.metrics.DispatchStarted()
	defer s.inflight.Done()
	defer s.slots.Release(1)
	defer s.metrics.DispatchDone()

	ctx := s.ctx
	if s.config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.config.DispatchTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in dispatch", zap.String("workflow", wf.Id), zap.String("runId", run.Id), zap.Any("panic", r))
			if err := s.engine.FailClaimed(ctx, run, fmt.Sprintf("panic during dispatch: %v", r)); err != nil {
				logger.Error("error while failing run after panic", zap.String("runId", run.Id), zap.Error(err))
			}
		}
	}()
	if err := s.engine.ExecuteClaimed(ctx, run, wf); err != nil {
		logger.Error("error while executing run", zap.String("runId", run.Id), zap.Error(err))
	}
}
