package config

import (
	"fmt"
	"net"
	"time"

	"github.com/mohitkumar/autoflow/analytics"
	"github.com/mohitkumar/autoflow/executor"
	"github.com/mohitkumar/autoflow/flow"
	"github.com/mohitkumar/autoflow/persistence/postgres"
	"github.com/mohitkumar/autoflow/persistence/redis"
	"github.com/mohitkumar/autoflow/schedule"
)

type StorageType string

const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"

type Config struct {
	StorageType     StorageType
	RedisConfig     redis.Config
	PostgresConfig  postgres.Config
	NatsConfig      NatsConfig
	ClusterConfig   ClusterConfig
	EngineConfig    EngineConfig
	ExecutorConfig  executor.Config
	AnalyticsConfig AnalyticsConfig
	HttpPort        int
	Definitions     DefinitionsConfig
	LogLevel        string
	LogJSON         bool
}

type NatsConfig struct {
	URL string
	// Embedded starts an in-process server and connects to it when URL is empty.
	Embedded        bool
	EmbeddedPort    int
	Prefix          string
	Queue           string
	RequestTimeout  time.Duration
	ResolveEntities bool
}

func (c NatsConfig) Enabled() bool {
	return c.URL != "" || c.Embedded
}

type ClusterConfig struct {
	NodeName       string
	BindAddr       string
	StartJoinAddrs []string
	PartitionCount int
}

type EngineConfig struct {
	Timezone        string
	Holidays        []string
	HolidayRegions  []string
	ResumePolicy    string
	ImmediateBypass bool
	MaxDays         int
}

type AnalyticsConfig struct {
	CacheTTL  time.Duration
	Collector analytics.DataCollectorConfig
}

type DefinitionsConfig struct {
	File  string
	Watch bool
}

// HttpAddr is the address peers use to reach this node's http server.
func (c Config) HttpAddr() (string, error) {
	host, _, err := net.SplitHostPort(c.ClusterConfig.BindAddr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, c.HttpPort), nil
}

func (c EngineConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// HolidayCalendar combines the explicit dates and the regional calendars.
func (c EngineConfig) HolidayCalendar() (schedule.HolidayCalendar, error) {
	calendars := make([]schedule.HolidayCalendar, 0, len(c.HolidayRegions)+1)
	if len(c.Holidays) > 0 {
		dates, err := schedule.NewDateSet(c.Holidays...)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, dates)
	}
	for _, region := range c.HolidayRegions {
		rc, err := schedule.NewRegionalCalendar(region)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, rc)
	}
	if len(calendars) == 0 {
		return schedule.NoHolidays{}, nil
	}
	return schedule.AnyOf(calendars...), nil
}

func (c EngineConfig) Resolver() (*schedule.Resolver, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	holidays, err := c.HolidayCalendar()
	if err != nil {
		return nil, err
	}
	opts := []schedule.Option{
		schedule.WithLocation(loc),
		schedule.WithHolidays(holidays),
		schedule.WithImmediateBypass(c.ImmediateBypass),
	}
	if c.MaxDays > 0 {
		opts = append(opts, schedule.WithMaxDays(c.MaxDays))
	}
	return schedule.NewResolver(opts...), nil
}

func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_INMEM:
	case STORAGE_TYPE_REDIS:
		if len(c.RedisConfig.Addrs) == 0 {
			return fmt.Errorf("redis storage needs at least one address")
		}
	case STORAGE_TYPE_POSTGRES:
		if c.PostgresConfig.URL == "" {
			return fmt.Errorf("postgres storage needs a url")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.ClusterConfig.PartitionCount <= 0 {
		return fmt.Errorf("cluster partitions must be positive")
	}
	if c.ClusterConfig.NodeName == "" {
		return fmt.Errorf("cluster node name is required")
	}
	if c.ClusterConfig.BindAddr != "" {
		if _, err := c.HttpAddr(); err != nil {
			return fmt.Errorf("invalid cluster bind address: %w", err)
		}
	}
	if _, err := flow.ParseResumePolicy(c.EngineConfig.ResumePolicy); err != nil {
		return err
	}
	if _, err := c.EngineConfig.Resolver(); err != nil {
		return err
	}
	if c.ExecutorConfig.Capacity <= 0 {
		return fmt.Errorf("executor capacity must be positive")
	}
	if c.NatsConfig.Enabled() && c.NatsConfig.Prefix == "" {
		return fmt.Errorf("nats prefix is required")
	}
	return nil
}
