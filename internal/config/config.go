// Package config holds the worker configuration: defaults, an optional JSON
// or YAML file, then PULSAR_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportFramed = "framed"
	TransportRPC    = "rpc"
	TransportRedisQ = "redisq"
)

// Duration is a time.Duration that decodes from "1.5s" style strings or
// from integer nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// WorkerConfig holds dispatcher settings
type WorkerConfig struct {
	ID                string   `json:"id" yaml:"id"`
	SyncWorkers       int      `json:"sync_workers" yaml:"sync_workers"`
	InvocationTimeout Duration `json:"invocation_timeout" yaml:"invocation_timeout"`
	FunctionsDir      string   `json:"functions_dir" yaml:"functions_dir"`
	// InvocationLog, when set, receives one JSON line per invocation.
	InvocationLog string `json:"invocation_log" yaml:"invocation_log"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// TransportConfig selects how the worker talks to the host
type TransportConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	// Network and Addr are the listen address of the framed transport.
	// Network is unix, tcp or vsock.
	Network   string `json:"network" yaml:"network"`
	Addr      string `json:"addr" yaml:"addr"`
	VsockPort uint32 `json:"vsock_port" yaml:"vsock_port"`
	// Host is the gRPC address the rpc transport dials.
	Host           string      `json:"host" yaml:"host"`
	MaxMessageSize int         `json:"max_message_size" yaml:"max_message_size"`
	Redis          RedisConfig `json:"redis" yaml:"redis"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Exporter   string  `json:"exporter" yaml:"exporter"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Addr      string `json:"addr" yaml:"addr"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// ObservabilityConfig groups logging, tracing and metrics
type ObservabilityConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// Config is the central configuration struct
type Config struct {
	Worker        WorkerConfig        `json:"worker" yaml:"worker"`
	Transport     TransportConfig     `json:"transport" yaml:"transport"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			SyncWorkers: runtime.NumCPU(),
		},
		Transport: TransportConfig{
			Kind:           TransportFramed,
			Network:        "unix",
			Addr:           "/tmp/pulsar.sock",
			VsockPort:      9999,
			Host:           "localhost:50051",
			MaxMessageSize: 8 << 20,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "pulsar",
			},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Tracing: TracingConfig{Exporter: "otlp-http", Endpoint: "localhost:4318", SampleRate: 1.0},
			Metrics: MetricsConfig{Addr: ":9464", Namespace: "pulsar"},
		},
	}
}

// LoadFromFile loads configuration from a file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
// Malformed numeric values are reported and leave the field unchanged.
func LoadFromEnv(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = b
		}
	}

	str("PULSAR_WORKER_ID", &cfg.Worker.ID)
	num("PULSAR_SYNC_WORKERS", &cfg.Worker.SyncWorkers)
	str("PULSAR_FUNCTIONS_DIR", &cfg.Worker.FunctionsDir)
	str("PULSAR_INVOCATION_LOG", &cfg.Worker.InvocationLog)
	if v := os.Getenv("PULSAR_INVOCATION_TIMEOUT"); v != "" {
		if err := cfg.Worker.InvocationTimeout.parse(v); err != nil {
			errs = append(errs, fmt.Sprintf("PULSAR_INVOCATION_TIMEOUT=%q", v))
		}
	}

	str("PULSAR_TRANSPORT", &cfg.Transport.Kind)
	str("PULSAR_NETWORK", &cfg.Transport.Network)
	str("PULSAR_ADDR", &cfg.Transport.Addr)
	str("PULSAR_HOST", &cfg.Transport.Host)
	if v := os.Getenv("PULSAR_VSOCK_PORT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("PULSAR_VSOCK_PORT=%q", v))
		} else {
			cfg.Transport.VsockPort = uint32(n)
		}
	}
	str("PULSAR_REDIS_ADDR", &cfg.Transport.Redis.Addr)
	str("PULSAR_REDIS_PASSWORD", &cfg.Transport.Redis.Password)
	num("PULSAR_REDIS_DB", &cfg.Transport.Redis.DB)

	str("PULSAR_LOG_LEVEL", &cfg.Observability.Logging.Level)
	str("PULSAR_LOG_FORMAT", &cfg.Observability.Logging.Format)
	boolean("PULSAR_TRACING_ENABLED", &cfg.Observability.Tracing.Enabled)
	str("PULSAR_OTLP_ENDPOINT", &cfg.Observability.Tracing.Endpoint)
	boolean("PULSAR_METRICS_ENABLED", &cfg.Observability.Metrics.Enabled)
	str("PULSAR_METRICS_ADDR", &cfg.Observability.Metrics.Addr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, ", "))
	}
	return nil
}

// Validate checks settings that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Worker.SyncWorkers < 1 {
		return fmt.Errorf("worker.sync_workers must be at least 1, got %d", c.Worker.SyncWorkers)
	}
	if c.Worker.InvocationTimeout < 0 {
		return fmt.Errorf("worker.invocation_timeout must not be negative")
	}
	switch c.Transport.Kind {
	case TransportFramed:
		switch c.Transport.Network {
		case "unix", "tcp":
			if c.Transport.Addr == "" {
				return fmt.Errorf("transport.addr is required for %s", c.Transport.Network)
			}
		case "vsock":
			if c.Transport.VsockPort == 0 {
				return fmt.Errorf("transport.vsock_port is required for vsock")
			}
		default:
			return fmt.Errorf("unknown transport.network %q", c.Transport.Network)
		}
	case TransportRPC:
		if c.Transport.Host == "" {
			return fmt.Errorf("transport.host is required for the rpc transport")
		}
	case TransportRedisQ:
		if c.Transport.Redis.Addr == "" {
			return fmt.Errorf("transport.redis.addr is required for the redisq transport")
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}
	if c.Transport.MaxMessageSize <= 0 {
		return fmt.Errorf("transport.max_message_size must be positive")
	}
	return nil
}
