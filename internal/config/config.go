package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kiloop/keyindex/internal/errs"
)

const envPrefix = "KEYINDEX"

// ResolveConfigPath determines the config file path from a flag value or
// the KEYINDEX_CONFIG environment variable, flag taking precedence.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); v != "" {
		return v
	}
	return ""
}

func newViper(configPath string, setDefaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Config("config: read config file", err)
		}
	}
	return v, nil
}

func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})
}

func loadLogging(v *viper.Viper) LoggingConfig {
	return LoggingConfig{
		Level:            strings.ToUpper(v.GetString("logging.level")),
		Structured:       v.GetBool("logging.structured"),
		StructuredFormat: v.GetString("logging.structured_format"),
		IncludePID:       v.GetBool("logging.include_pid"),
		ExtraFields:      v.GetStringMapString("logging.extra_fields"),
	}
}

func setAdminDefaults(v *viper.Viper, defaultPort int) {
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", defaultPort)
}

func loadAdmin(v *viper.Viper) AdminConfig {
	return AdminConfig{
		Enabled: v.GetBool("admin.enabled"),
		Host:    v.GetString("admin.host"),
		Port:    v.GetInt("admin.port"),
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// LoadMaster loads the master role's configuration.
func LoadMaster(path string) (*MasterConfig, error) {
	v, err := newViper(path, func(v *viper.Viper) {
		v.SetDefault("port_udp", 9875)
		v.SetDefault("max_keys_per_worker", 1000)
		v.SetDefault("thread_pool_size", 10)
		v.SetDefault("loop_sleep_time", "100ms")
		setLoggingDefaults(v)
		setAdminDefaults(v, 8080)
	})
	if err != nil {
		return nil, err
	}

	cfg := &MasterConfig{
		PortUDP:          v.GetInt("port_udp"),
		MaxKeysPerWorker: v.GetInt("max_keys_per_worker"),
		ThreadPoolSize:   v.GetInt("thread_pool_size"),
		LoopSleepTimeRaw: v.GetString("loop_sleep_time"),
		Logging:          loadLogging(v),
		Admin:            loadAdmin(v),
	}
	cfg.LoopSleepTime = parseDuration(cfg.LoopSleepTimeRaw, 100*time.Millisecond)

	if cfg.PortUDP <= 0 || cfg.PortUDP > 65535 {
		return nil, errs.Config("config: master.port_udp must be 1..65535", nil)
	}
	if cfg.MaxKeysPerWorker <= 0 {
		return nil, errs.Config("config: master.max_keys_per_worker must be positive", nil)
	}
	return cfg, nil
}

// LoadWorker loads the worker role's configuration. master_host is
// required (missing is a config error); master_port_udp, w_port_udp and
// w_port_tcp default to 9875/9876/9877, and a value outside 1..65535 is a
// config error.
func LoadWorker(path string) (*WorkerConfig, error) {
	v, err := newViper(path, func(v *viper.Viper) {
		v.SetDefault("master_port_udp", 9875)
		v.SetDefault("w_port_udp", 9876)
		v.SetDefault("w_port_tcp", 9877)
		v.SetDefault("thread_pool_size", 10)
		v.SetDefault("recent_add_limit", "60s")
		v.SetDefault("threshold_neighbor_shift", 1.10)
		v.SetDefault("max_keys_to_shift", 10000)
		v.SetDefault("loop_sleep_time", "100ms")
		setLoggingDefaults(v)
		setAdminDefaults(v, 8081)
	})
	if err != nil {
		return nil, err
	}

	cfg := &WorkerConfig{
		MasterHost:             v.GetString("master_host"),
		MasterPortUDP:          v.GetInt("master_port_udp"),
		WPortUDP:               v.GetInt("w_port_udp"),
		WPortTCP:               v.GetInt("w_port_tcp"),
		ThreadPoolSize:         v.GetInt("thread_pool_size"),
		RecentAddLimitRaw:      v.GetString("recent_add_limit"),
		ThresholdNeighborShift: v.GetFloat64("threshold_neighbor_shift"),
		MaxKeysToShift:         v.GetInt("max_keys_to_shift"),
		LoopSleepTimeRaw:       v.GetString("loop_sleep_time"),
		Logging:                loadLogging(v),
		Admin:                  loadAdmin(v),
	}
	cfg.RecentAddLimit = parseDuration(cfg.RecentAddLimitRaw, 60*time.Second)
	cfg.LoopSleepTime = parseDuration(cfg.LoopSleepTimeRaw, 100*time.Millisecond)

	if strings.TrimSpace(cfg.MasterHost) == "" {
		return nil, errs.Config("config: worker.master_host is required", nil)
	}
	if cfg.MasterPortUDP <= 0 || cfg.WPortUDP <= 0 || cfg.WPortTCP <= 0 ||
		cfg.MasterPortUDP > 65535 || cfg.WPortUDP > 65535 || cfg.WPortTCP > 65535 {
		return nil, errs.Config("config: worker ports must be 1..65535", nil)
	}
	if cfg.ThresholdNeighborShift <= 1.0 {
		return nil, errs.Config("config: worker.threshold_neighbor_shift must be > 1.0", nil)
	}
	return cfg, nil
}

// LoadClient loads the client role's configuration.
func LoadClient(path string) (*ClientConfig, error) {
	v, err := newViper(path, func(v *viper.Viper) {
		v.SetDefault("master_port_udp", 9875)
		v.SetDefault("client_port_udp", 0)
		v.SetDefault("thread_pool_size", 10)
		v.SetDefault("loop_sleep_time", "100ms")
		v.SetDefault("max_lookups", 1000)
		v.SetDefault("max_inserts", 1000)
		setLoggingDefaults(v)
	})
	if err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		MasterHost:       v.GetString("master_host"),
		MasterPortUDP:    v.GetInt("master_port_udp"),
		ClientPortUDP:    v.GetInt("client_port_udp"),
		DefWorkerHost:    v.GetString("def_worker_host"),
		DefWorkerPortUDP: v.GetInt("def_worker_port_udp"),
		ThreadPoolSize:   v.GetInt("thread_pool_size"),
		LoopSleepTimeRaw: v.GetString("loop_sleep_time"),
		MaxLookups:       v.GetInt("max_lookups"),
		MaxInserts:       v.GetInt("max_inserts"),
		Logging:          loadLogging(v),
	}
	cfg.LoopSleepTime = parseDuration(cfg.LoopSleepTimeRaw, 100*time.Millisecond)

	if strings.TrimSpace(cfg.MasterHost) == "" {
		return nil, errs.Config("config: client.master_host is required", nil)
	}
	if strings.TrimSpace(cfg.DefWorkerHost) == "" {
		return nil, errs.Config("config: client.def_worker_host is required", nil)
	}
	if cfg.MasterPortUDP <= 0 || cfg.DefWorkerPortUDP <= 0 {
		return nil, errs.Config("config: client ports must be 1..65535", nil)
	}
	if cfg.MaxLookups <= 0 || cfg.MaxInserts <= 0 {
		return nil, errs.Config("config: client.max_lookups/max_inserts must be positive", nil)
	}
	return cfg, nil
}
