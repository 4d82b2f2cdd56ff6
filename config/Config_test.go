package config

import (
	"testing"
	"time"

	"github.com/mohitkumar/autoflow/executor"
	"github.com/mohitkumar/autoflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		StorageType:    STORAGE_TYPE_INMEM,
		ClusterConfig:  ClusterConfig{NodeName: "node-1", PartitionCount: 32},
		EngineConfig:   EngineConfig{Timezone: "UTC", ResumePolicy: "original", ImmediateBypass: true},
		ExecutorConfig: executor.Config{Capacity: 64, TickInterval: time.Second, DispatchTimeout: 30 * time.Second},
		HttpPort:       8080,
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *Config)
		err    string
	}{
		"defaults are valid":   {mutate: func(c *Config) {}},
		"unknown storage":      {mutate: func(c *Config) { c.StorageType = "dynamo" }, err: "unknown storage type"},
		"redis without addrs":  {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_REDIS }, err: "redis storage"},
		"postgres without url": {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_POSTGRES }, err: "postgres storage"},
		"bad resume policy":    {mutate: func(c *Config) { c.EngineConfig.ResumePolicy = "later" }, err: "unknown resume policy"},
		"bad timezone":         {mutate: func(c *Config) { c.EngineConfig.Timezone = "Mars/Olympus" }, err: "invalid timezone"},
		"bad holiday":          {mutate: func(c *Config) { c.EngineConfig.Holidays = []string{"12/25"} }, err: "invalid holiday date"},
		"bad region":           {mutate: func(c *Config) { c.EngineConfig.HolidayRegions = []string{"atlantis"} }, err: "unsupported holiday region"},
		"zero capacity":        {mutate: func(c *Config) { c.ExecutorConfig.Capacity = 0 }, err: "capacity"},
		"bad bind addr":        {mutate: func(c *Config) { c.ClusterConfig.BindAddr = "nohost" }, err: "bind address"},
		"nats without prefix":  {mutate: func(c *Config) { c.NatsConfig.Embedded = true }, err: "nats prefix"},
	}
	for scenario, tc := range tests {
		t.Run(scenario, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestResolverHonorsEngineConfig(t *testing.T) {
	c := validConfig().EngineConfig
	c.Timezone = "America/New_York"
	c.Holidays = []string{"2024-01-09"}
	resolver, err := c.Resolver()
	require.NoError(t, err)

	rules := model.SendRules{BusinessHours: model.BusinessHours{StartHour: 9, EndHour: 17}, DaysOfWeek: []int{1, 2, 3, 4, 5}, SkipHolidays: true}
	// Monday 2024-01-08 16:30 New York, plus one hour lands outside hours,
	// Tuesday is a configured holiday, so Wednesday 09:00 local.
	ref := time.Date(2024, 1, 8, 21, 30, 0, 0, time.UTC)
	got, err := resolver.Resolve(60, ref, rules)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC), got.UTC())
}

func TestHttpAddr(t *testing.T) {
	c := validConfig()
	c.ClusterConfig.BindAddr = "10.0.0.5:7946"
	addr, err := c.HttpAddr()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8080", addr)
}
