package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills unset fields with sensible defaults after loading from
// file and environment. Zero values are replaced; explicit values are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyListenDefaults(&cfg.Listen)
	applyLockDefaults(&cfg.Lock)
	applyReplicationDefaults(&cfg.Replication)
	applyProxyDefaults(&cfg.Proxy)
	applyMetricsDefaults(&cfg.Metrics)
	applyProfilingDefaults(&cfg.Profiling)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyListenDefaults(cfg *ListenConfig) {
	if cfg.ClientAddr == "" {
		cfg.ClientAddr = ":40040"
	}
	if cfg.SlaveAddr == "" {
		cfg.SlaveAddr = ":40041"
	}
	if cfg.CoreAddr == "" {
		cfg.CoreAddr = ":40042"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":40043"
	}
	if cfg.NewConnTimeout == 0 {
		cfg.NewConnTimeout = 30 * time.Second
	}
}

func applyLockDefaults(cfg *LockConfig) {
	if cfg.PreallocLocks == 0 {
		cfg.PreallocLocks = 1024
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = 8
	}
}

func applyReplicationDefaults(cfg *ReplicationConfig) {
	cfg.MaxSlaves = 4
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 10 * time.Second
	}
}

func applyProxyDefaults(cfg *ProxyConfig) {
	if cfg.ShardCount == 0 {
		cfg.ShardCount = 64
	}
	if cfg.ClientAddr == "" {
		cfg.ClientAddr = ":40140"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Enabled && cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if cfg.Enabled && len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}
}

// GetDefaultConfig returns a Config with every field at its default value,
// used when no config file is found.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cluster: ClusterConfig{ClusterID: "default", NodeName: "ltd"},
	}
	ApplyDefaults(cfg)
	return cfg
}
