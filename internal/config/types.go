// Package config loads per-role configuration with Viper: environment
// variables (KEYINDEX_ prefix) > config file > hardcoded defaults.
//
// Environment variables are the upper-cased flat keys with the prefix,
// e.g. KEYINDEX_MASTER_HOST maps to master_host in YAML.
package config

import "time"

// LoggingConfig controls slog setup, shared across all three roles.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}

// AdminConfig controls the read-only gin status surface a master or
// worker process optionally exposes.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// MasterConfig is the master role's recognized option set, per spec §6.3:
// {portUdp, maxKeysPerWorker, threadPoolSize, loopSleepTime}, plus the
// ambient logging/admin sections every role carries.
type MasterConfig struct {
	PortUDP          int           `yaml:"port_udp"             mapstructure:"port_udp"`
	MaxKeysPerWorker int           `yaml:"max_keys_per_worker"  mapstructure:"max_keys_per_worker"`
	ThreadPoolSize   int           `yaml:"thread_pool_size"     mapstructure:"thread_pool_size"`
	LoopSleepTime    time.Duration `yaml:"-"                    mapstructure:"-"`
	LoopSleepTimeRaw string        `yaml:"loop_sleep_time"      mapstructure:"loop_sleep_time"`
	Logging          LoggingConfig `yaml:"logging"              mapstructure:"logging"`
	Admin            AdminConfig   `yaml:"admin"                mapstructure:"admin"`
}

// WorkerConfig is the worker role's recognized option set, per spec §6.3:
// {masterHost, masterPortUdp, wPortUdp, wPortTcp, threadPoolSize,
// recentAddLimit, thresholdNeighborShift, maxKeysToShift, loopSleepTime}.
type WorkerConfig struct {
	MasterHost             string        `yaml:"master_host"                mapstructure:"master_host"`
	MasterPortUDP          int           `yaml:"master_port_udp"            mapstructure:"master_port_udp"`
	WPortUDP               int           `yaml:"w_port_udp"                 mapstructure:"w_port_udp"`
	WPortTCP               int           `yaml:"w_port_tcp"                 mapstructure:"w_port_tcp"`
	ThreadPoolSize         int           `yaml:"thread_pool_size"           mapstructure:"thread_pool_size"`
	RecentAddLimit         time.Duration `yaml:"-"                          mapstructure:"-"`
	RecentAddLimitRaw      string        `yaml:"recent_add_limit"          mapstructure:"recent_add_limit"`
	ThresholdNeighborShift float64       `yaml:"threshold_neighbor_shift"  mapstructure:"threshold_neighbor_shift"`
	MaxKeysToShift         int           `yaml:"max_keys_to_shift"         mapstructure:"max_keys_to_shift"`
	LoopSleepTime          time.Duration `yaml:"-"                         mapstructure:"-"`
	LoopSleepTimeRaw       string        `yaml:"loop_sleep_time"           mapstructure:"loop_sleep_time"`
	Logging                LoggingConfig `yaml:"logging"                   mapstructure:"logging"`
	Admin                  AdminConfig   `yaml:"admin"                     mapstructure:"admin"`
}

// ClientConfig is the client role's recognized option set, per spec §6.3:
// {masterHost, masterPortUdp, clientPortUdp, defWorkerHost,
// defWorkerPortUdp, threadPoolSize, loopSleepTime, maxLookups, maxInserts}.
type ClientConfig struct {
	MasterHost       string        `yaml:"master_host"         mapstructure:"master_host"`
	MasterPortUDP    int           `yaml:"master_port_udp"     mapstructure:"master_port_udp"`
	ClientPortUDP    int           `yaml:"client_port_udp"     mapstructure:"client_port_udp"`
	DefWorkerHost    string        `yaml:"def_worker_host"     mapstructure:"def_worker_host"`
	DefWorkerPortUDP int           `yaml:"def_worker_port_udp" mapstructure:"def_worker_port_udp"`
	ThreadPoolSize   int           `yaml:"thread_pool_size"    mapstructure:"thread_pool_size"`
	LoopSleepTime    time.Duration `yaml:"-"                   mapstructure:"-"`
	LoopSleepTimeRaw string        `yaml:"loop_sleep_time"     mapstructure:"loop_sleep_time"`
	MaxLookups       int           `yaml:"max_lookups"         mapstructure:"max_lookups"`
	MaxInserts       int           `yaml:"max_inserts"         mapstructure:"max_inserts"`
	Logging          LoggingConfig `yaml:"logging"             mapstructure:"logging"`
}
