package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohitkumar/autoflow/action"
	"github.com/mohitkumar/autoflow/agent"
	"github.com/mohitkumar/autoflow/analytics"
	"github.com/mohitkumar/autoflow/config"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/metadata"
	"github.com/mohitkumar/autoflow/persistence/memory"
	"github.com/mohitkumar/autoflow/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().Bool("log-json", false, "log as json")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "memory", "storage backend: memory, redis or postgres")

	cmd.Flags().String("redis.addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis.namespace", "autoflow", "namespace used for redis keys")
	cmd.Flags().Int("redis.pool-size", 0, "redis connection pool size, 0 for the client default")
	cmd.Flags().String("redis.password", "", "redis password")
	cmd.Flags().String("postgres.url", "", "postgres connection url")
	cmd.Flags().Int32("postgres.max-conns", 0, "postgres pool size, 0 for the driver default")

	cmd.Flags().String("nats.url", "", "nats server url, capabilities run in dry-run mode when empty")
	cmd.Flags().Bool("nats.embedded", false, "start an in-process nats server when no url is set")
	cmd.Flags().Int("nats.embedded-port", 4222, "port of the embedded nats server")
	cmd.Flags().String("nats.prefix", "autoflow", "subject prefix for events and capabilities")
	cmd.Flags().String("nats.queue", "autoflow", "queue group for event consumers")
	cmd.Flags().Duration("nats.request-timeout", 10*time.Second, "capability request timeout when the dispatch has no deadline")
	cmd.Flags().Bool("nats.resolve-entities", false, "fetch a fresh entity snapshot before each action")

	cmd.Flags().String("cluster.node-name", hostname(), "name of this node")
	cmd.Flags().String("cluster.bind-addr", "", "serf gossip address, empty for a single node")
	cmd.Flags().StringSlice("cluster.join", nil, "serf addresses to join at startup")
	cmd.Flags().Int("cluster.partitions", 32, "number of run partitions")

	cmd.Flags().String("engine.timezone", "UTC", "timezone business hours are evaluated in")
	cmd.Flags().StringSlice("engine.holidays", nil, "holiday dates as YYYY-MM-DD")
	cmd.Flags().StringSlice("engine.holiday-regions", nil, "regional holiday calendars: us, gb")
	cmd.Flags().String("engine.resume-policy", "original", "waiting runs on resume: original or reschedule")
	cmd.Flags().Bool("engine.immediate-bypass-window", true, "zero-minute waits ignore send rules")

	cmd.Flags().Duration("executor.tick", time.Second, "scheduler poll interval")
	cmd.Flags().Int("executor.capacity", 64, "concurrent dispatches per node")
	cmd.Flags().Int("executor.batch-size", 0, "due runs read per partition and tick, 0 for capacity")
	cmd.Flags().Duration("executor.dispatch-timeout", 30*time.Second, "timeout of a single action dispatch")

	cmd.Flags().Duration("analytics.cache-ttl", 0, "analytics snapshot cache ttl, 0 disables")
	cmd.Flags().String("analytics.collector", "", "execution record collector: LOG_FILE_DATA_COLLECTOR or empty")
	cmd.Flags().String("analytics.file", "actions.log", "file of the log file collector")

	cmd.Flags().String("definitions.file", "", "YAML workflow definitions file")
	cmd.Flags().Bool("definitions.watch", false, "reload the definitions file on change")
	return viper.BindPFlags(cmd.Flags())
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "autoflow"
	}
	return name
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			return err
		}
	}
	viper.SetEnvPrefix("AUTOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := logger.Init(viper.GetString("log-level"), viper.GetBool("log-json")); err != nil {
		return err
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis.addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("redis.namespace")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis.pool-size")
	c.cfg.RedisConfig.Password = viper.GetString("redis.password")
	c.cfg.PostgresConfig.URL = viper.GetString("postgres.url")
	c.cfg.PostgresConfig.MaxConns = viper.GetInt32("postgres.max-conns")

	c.cfg.NatsConfig.URL = viper.GetString("nats.url")
	c.cfg.NatsConfig.Embedded = viper.GetBool("nats.embedded")
	c.cfg.NatsConfig.EmbeddedPort = viper.GetInt("nats.embedded-port")
	c.cfg.NatsConfig.Prefix = viper.GetString("nats.prefix")
	c.cfg.NatsConfig.Queue = viper.GetString("nats.queue")
	c.cfg.NatsConfig.RequestTimeout = viper.GetDuration("nats.request-timeout")
	c.cfg.NatsConfig.ResolveEntities = viper.GetBool("nats.resolve-entities")

	c.cfg.ClusterConfig.NodeName = viper.GetString("cluster.node-name")
	c.cfg.ClusterConfig.BindAddr = viper.GetString("cluster.bind-addr")
	c.cfg.ClusterConfig.StartJoinAddrs = viper.GetStringSlice("cluster.join")
	c.cfg.ClusterConfig.PartitionCount = viper.GetInt("cluster.partitions")

	c.cfg.EngineConfig.Timezone = viper.GetString("engine.timezone")
	c.cfg.EngineConfig.Holidays = viper.GetStringSlice("engine.holidays")
	c.cfg.EngineConfig.HolidayRegions = viper.GetStringSlice("engine.holiday-regions")
	c.cfg.EngineConfig.ResumePolicy = viper.GetString("engine.resume-policy")
	c.cfg.EngineConfig.ImmediateBypass = viper.GetBool("engine.immediate-bypass-window")

	c.cfg.ExecutorConfig.TickInterval = viper.GetDuration("executor.tick")
	c.cfg.ExecutorConfig.Capacity = viper.GetInt("executor.capacity")
	c.cfg.ExecutorConfig.BatchSize = viper.GetInt("executor.batch-size")
	c.cfg.ExecutorConfig.DispatchTimeout = viper.GetDuration("executor.dispatch-timeout")

	c.cfg.AnalyticsConfig.CacheTTL = viper.GetDuration("analytics.cache-ttl")
	c.cfg.AnalyticsConfig.Collector = analytics.DataCollectorConfig{
		CollectorType: analytics.DataCollectorType(viper.GetString("analytics.collector")),
		FileName:      viper.GetString("analytics.file"),
	}

	c.cfg.Definitions.File = viper.GetString("definitions.file")
	c.cfg.Definitions.Watch = viper.GetBool("definitions.watch")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg)
	if err != nil {
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-agent.Done():
	}
	return agent.Shutdown()
}

func validate(cmd *cobra.Command, args []string) error {
	service := metadata.NewMetadataService(memory.NewStore(), action.NewRegistry(), util.SystemClock{})
	workflows, err := metadata.ValidateFile(service, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d workflows ok\n", args[0], len(workflows))
	return nil
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:          "autoflow",
		Short:        "Pipeline automation engine",
		PreRunE:      cli.setupConfig,
		RunE:         cli.run,
		SilenceUsage: true,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML workflow definitions file",
		Args:  cobra.ExactArgs(1),
		RunE:  validate,
	})

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
