package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the configuration for a single lock table node (ltd), shared by
// the master/slave role machine, the proxy, and the admin surface.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (LTD_*), for keys the file sets
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No command-line flag overrides a config value (--config only picks the
// file). When no file is found, the defaults are returned as they are and
// the environment is not consulted.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Cluster ClusterConfig `mapstructure:"cluster" yaml:"cluster"`
	Listen  ListenConfig  `mapstructure:"listen" yaml:"listen"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	Replication ReplicationConfig `mapstructure:"replication" yaml:"replication"`
	Proxy   ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ClusterConfig identifies this node within the cluster.
type ClusterConfig struct {
	// ClusterID names the lockspace this node serves; core membership events
	// for other clusters are ignored.
	ClusterID string `mapstructure:"cluster_id" validate:"required" yaml:"cluster_id"`
	// NodeName is this node's identity on the wire (login, holder names).
	NodeName string `mapstructure:"node_name" validate:"required" yaml:"node_name"`
}

// ListenConfig configures the four connection classes a lock table node
// accepts: clients, slaves, the core membership collaborator, and
// the admin/control CLI.
type ListenConfig struct {
	ClientAddr string `mapstructure:"client_addr" yaml:"client_addr"`
	SlaveAddr  string `mapstructure:"slave_addr" yaml:"slave_addr"`
	CoreAddr   string `mapstructure:"core_addr" yaml:"core_addr"`
	AdminAddr  string `mapstructure:"admin_addr" yaml:"admin_addr"`
	// NewConnTimeout bounds how long an accepted connection has to complete
	// login before it is dropped.
	NewConnTimeout time.Duration `mapstructure:"new_conn_timeout" yaml:"new_conn_timeout"`
}

// LockConfig bounds the lockspace's memory behavior.
type LockConfig struct {
	PreallocLocks int `mapstructure:"prealloc_locks" yaml:"prealloc_locks"`
	HistoryDepth  int `mapstructure:"history_depth" yaml:"history_depth"`
	// HighWaterLocks is loaded from the file, but no component reads it: the
	// live lock count is not capped and no drop-all callback is sent when
	// it grows.
	HighWaterLocks int `mapstructure:"high_water_locks" yaml:"high_water_locks"`
}

// ReplicationConfig configures the Master/Slave Replication role machine.
// MaxSlaves is frozen at 4 by the single-byte Slave_bitmask and is
// not configurable; it's documented here for discoverability.
type ReplicationConfig struct {
	// MaxSlaves is always 4 (one bit per slave in Slave_bitmask); set by
	// ApplyDefaults, never read from the file.
	MaxSlaves int `mapstructure:"-" yaml:"-"`
	// AckTimeout is loaded and defaulted, but no component reads it: a grant
	// stays in the reply-waiter slot until slave quorum is met or the slave
	// mask shrinks, with no time limit.
	AckTimeout time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"`
}

// ProxyConfig configures a Lock Table Proxy process.
type ProxyConfig struct {
	// ShardCount is validated (a power of two no greater than 256) and
	// defaulted, but ltpx does not read it: it runs one shard per entry of
	// Upstreams.
	ShardCount int      `mapstructure:"shard_count" yaml:"shard_count"`
	Upstreams  []string `mapstructure:"upstreams" yaml:"upstreams"`
	ClientAddr string   `mapstructure:"client_addr" yaml:"client_addr"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ProfilingConfig configures continuous profiling of the node process.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	// Endpoint is the profiling server URL, e.g. "http://localhost:4040".
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// ProfileTypes selects which profiles to collect. Valid values: cpu,
	// alloc_objects, alloc_space, inuse_objects, inuse_space, goroutines,
	// mutex_count, mutex_duration, block_count, block_duration.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, producing a user-friendly error pointing at
// `ltd init` when no config file exists at the default or given location.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n  ltd init\n\nor specify a custom file:\n  ltd --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, 0600 since it may name cluster
// identifiers operators consider sensitive.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes a sample configuration file at the default location
// (ltd init / ltpx init), refusing to overwrite an existing file unless force is
// set. It returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("LTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ltd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ltd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string { return filepath.Join(getConfigDir(), "config.yaml") }

// DefaultConfigExists reports whether a config file exists at the default path.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
