package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/analytics"
	"github.com/mohitkumar/autoflow/capability"
	"github.com/mohitkumar/autoflow/cluster"
	"github.com/mohitkumar/autoflow/config"
	"github.com/mohitkumar/autoflow/executor"
	"github.com/mohitkumar/autoflow/flow"
	"github.com/mohitkumar/autoflow/ingest"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/metadata"
	"github.com/mohitkumar/autoflow/metrics"
	"github.com/mohitkumar/autoflow/persistence"
	"github.com/mohitkumar/autoflow/persistence/memory"
	"github.com/mohitkumar/autoflow/persistence/postgres"
	"github.com/mohitkumar/autoflow/persistence/redis"
	"github.com/mohitkumar/autoflow/rest"
	"github.com/mohitkumar/autoflow/util"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type store interface {
	persistence.RunStore
	persistence.WorkflowStore
}

type Agent struct {
	Config          config.Config
	clock           util.Clock
	store           store
	closeStore      func()
	metrics         *metrics.Metrics
	ring            *cluster.Ring
	membership      *cluster.Membership
	natsServer      *server.Server
	natsConn        *nats.Conn
	engine          *flow.Engine
	metadataService *metadata.MetadataServiceImpl
	fileSource      *metadata.FileSource
	collector       analytics.DataCollector
	analytics       *analytics.Service
	executors       []executor.Executor
	httpServer      *rest.Server
	ctx             context.Context
	cancel          context.CancelFunc
	shutdown        bool
	shutdowns       chan struct{}
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		Config:    config,
		clock:     util.SystemClock{},
		shutdowns: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupMetrics,
		a.setupCluster,
		a.setupNats,
		a.setupEngine,
		a.setupAnalytics,
		a.setupMetadata,
		a.setupExecutors,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			a.release()
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		a.store = memory.NewStore()
		a.closeStore = func() {}
	case config.STORAGE_TYPE_REDIS:
		s := redis.NewStore(a.Config.RedisConfig)
		a.store = s
		a.closeStore = func() { _ = s.Close() }
	case config.STORAGE_TYPE_POSTGRES:
		var s *postgres.Store
		err := a.retry(func() error {
			var err error
			s, err = postgres.Connect(a.ctx, a.Config.PostgresConfig)
			return err
		})
		if err != nil {
			return err
		}
		a.store = s
		a.closeStore = s.Close
	default:
		return fmt.Errorf("unknown storage type %s", a.Config.StorageType)
	}
	if err := a.retry(func() error { return a.store.Ping(a.ctx) }); err != nil {
		return fmt.Errorf("storage %s unreachable: %w", a.Config.StorageType, err)
	}
	logger.Info("storage ready", zap.String("type", string(a.Config.StorageType)))
	return nil
}

// retry runs fn with exponential backoff for up to thirty seconds.
func (a *Agent) retry(fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	return backoff.RetryNotify(fn, backoff.WithContext(b, a.ctx), func(err error, wait time.Duration) {
		logger.Warn("storage not ready, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
}

func (a *Agent) setupMetrics() error {
	a.metrics = metrics.New()
	return nil
}

func (a *Agent) setupCluster() error {
	conf := a.Config.ClusterConfig
	a.ring = cluster.NewRing(cluster.RingConfig{PartitionCount: conf.PartitionCount})
	if conf.BindAddr == "" {
		a.ring.JoinLocal(conf.NodeName, "")
		a.metrics.OwnedPartitions(conf.PartitionCount)
		return nil
	}
	httpAddr, err := a.Config.HttpAddr()
	if err != nil {
		return err
	}
	a.ring.JoinLocal(conf.NodeName, httpAddr)
	a.metrics.OwnedPartitions(len(a.ring.GetPartitions()))
	a.membership, err = cluster.NewMembership(a.ring, cluster.Config{
		NodeName:       conf.NodeName,
		BindAddr:       conf.BindAddr,
		HttpAddr:       httpAddr,
		StartJoinAddrs: conf.StartJoinAddrs,
	}, func(change cluster.OwnershipChange) {
		a.metrics.OwnedPartitions(change.Owned)
		a.metrics.PartitionsHandedOff(len(change.Gained), len(change.Lost))
	})
	return err
}

func (a *Agent) setupNats() error {
	conf := a.Config.NatsConfig
	if !conf.Enabled() {
		return nil
	}
	url := conf.URL
	if url == "" {
		port := conf.EmbeddedPort
		if port == 0 {
			port = -1
		}
		ns, err := capability.StartEmbeddedServer(port)
		if err != nil {
			return err
		}
		a.natsServer = ns
		url = ns.ClientURL()
		logger.Info("embedded nats server started", zap.String("url", url))
	}
	conn, err := capability.Connect(capability.Config{URL: url})
	if err != nil {
		return err
	}
	a.natsConn = conn
	return nil
}

func (a *Agent) capabilityConfig() capability.Config {
	return capability.Config{
		URL:            a.Config.NatsConfig.URL,
		Prefix:         a.Config.NatsConfig.Prefix,
		RequestTimeout: a.Config.NatsConfig.RequestTimeout,
	}
}

func (a *Agent) setupEngine() error {
	resolver, err := a.Config.EngineConfig.Resolver()
	if err != nil {
		return err
	}
	policy, err := flow.ParseResumePolicy(a.Config.EngineConfig.ResumePolicy)
	if err != nil {
		return err
	}
	var caps action.Capabilities = capability.DryRun{}
	opts := []flow.Option{
		flow.WithMetrics(a.metrics),
		flow.WithResumePolicy(policy),
		flow.WithPartitioner(a.ring),
	}
	if a.natsConn != nil {
		caps = capability.NewNatsCapabilities(a.natsConn, a.capabilityConfig())
		if a.Config.NatsConfig.ResolveEntities {
			opts = append(opts, flow.WithEntityResolver(capability.NewEntityResolver(a.natsConn, a.capabilityConfig())))
		}
	} else {
		logger.Warn("no nats configured, actions run in dry-run mode")
	}
	dispatcher := action.NewDispatcher(action.NewRegistry(), caps, a.clock)
	a.engine = flow.NewEngine(a.store, a.store, flow.NewMachine(resolver), dispatcher, a.clock, opts...)
	return nil
}

func (a *Agent) setupAnalytics() error {
	var err error
	a.collector, err = analytics.NewDataCollector(a.Config.AnalyticsConfig.Collector, &a.wg)
	if err != nil {
		return err
	}
	a.analytics = analytics.NewService(a.store, a.clock, a.Config.AnalyticsConfig.CacheTTL, a.collector)
	a.engine.AddListener(a.analytics)
	return nil
}

func (a *Agent) setupMetadata() error {
	a.metadataService = metadata.NewMetadataService(a.store, a.engine.Dispatcher().Registry(), a.clock)
	a.metadataService.OnResume(a.engine.OnWorkflowResumed)
	defs := a.Config.Definitions
	if defs.File == "" {
		return nil
	}
	a.fileSource = metadata.NewFileSource(defs.File, a.metadataService)
	if err := a.fileSource.Load(a.ctx); err != nil {
		return err
	}
	if defs.Watch {
		return a.fileSource.Watch(a.ctx)
	}
	return nil
}

func (a *Agent) setupExecutors() error {
	a.executors = append(a.executors, executor.NewScheduler(a.engine, a.ring, a.clock, a.metrics, a.Config.ExecutorConfig, &a.wg))
	if a.natsConn != nil {
		a.executors = append(a.executors, ingest.NewNatsConsumer(a.natsConn, a.engine, ingest.Config{
			Prefix: a.Config.NatsConfig.Prefix,
			Queue:  a.Config.NatsConfig.Queue,
		}))
	}
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.engine, a.analytics, a.metrics)
	return err
}

func (a *Agent) Start() error {
	if a.collector != nil {
		a.collector.Start()
	}
	for _, ex := range a.executors {
		if err := ex.Start(); err != nil {
			return fmt.Errorf("start %s: %w", ex.Name(), err)
		}
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
	}
	for i := len(a.executors) - 1; i >= 0; i-- {
		shutdown = append(shutdown, a.executors[i].Stop)
	}
	if a.fileSource != nil {
		shutdown = append(shutdown, a.fileSource.Stop)
	}
	if a.collector != nil {
		shutdown = append(shutdown, func() error {
			a.collector.Stop()
			return nil
		})
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	a.release()
	return nil
}

// Done is closed once Shutdown has been called.
func (a *Agent) Done() <-chan struct{} {
	return a.shutdowns
}

func (a *Agent) release() {
	if c, ok := a.collector.(*analytics.LogFileDataCollector); ok {
		_ = c.Close()
	}
	if a.membership != nil {
		if err := a.membership.Leave(); err != nil {
			logger.Error("error leaving cluster", zap.Error(err))
		}
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.natsServer != nil {
		a.natsServer.Shutdown()
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	a.cancel()
}
