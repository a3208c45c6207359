package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Transport.MaxMessageSize != 8<<20 {
		t.Fatalf("max message size = %d", cfg.Transport.MaxMessageSize)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "pulsar.json", `{
		"worker": {"id": "w1", "sync_workers": 3, "invocation_timeout": "2s"},
		"transport": {"kind": "rpc", "host": "host:7071"}
	}`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Worker.ID != "w1" || cfg.Worker.SyncWorkers != 3 {
		t.Fatalf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Worker.InvocationTimeout.Std() != 2*time.Second {
		t.Fatalf("timeout = %v", cfg.Worker.InvocationTimeout.Std())
	}
	if cfg.Transport.Kind != TransportRPC || cfg.Transport.Host != "host:7071" {
		t.Fatalf("unexpected transport: %+v", cfg.Transport)
	}
	// Untouched sections keep their defaults.
	if cfg.Observability.Logging.Level != "info" || cfg.Transport.Redis.Prefix != "pulsar" {
		t.Fatalf("defaults lost: %+v", cfg.Observability.Logging)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := writeFile(t, "pulsar.yaml", `
worker:
  sync_workers: 8
  invocation_timeout: 1500ms
transport:
  kind: framed
  network: tcp
  addr: 127.0.0.1:7000
observability:
  metrics:
    enabled: true
    addr: ":9100"
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Worker.SyncWorkers != 8 || cfg.Worker.InvocationTimeout.Std() != 1500*time.Millisecond {
		t.Fatalf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Transport.Network != "tcp" || cfg.Transport.Addr != "127.0.0.1:7000" {
		t.Fatalf("unexpected transport: %+v", cfg.Transport)
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Addr != ":9100" {
		t.Fatalf("unexpected metrics: %+v", cfg.Observability.Metrics)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := writeFile(t, "bad.json", `{"worker": {"invocation_timeout": "soon"}}`)
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "pulsar.json", `{"worker": {"id": "from-file", "sync_workers": 2}}`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	t.Setenv("PULSAR_WORKER_ID", "from-env")
	t.Setenv("PULSAR_TRANSPORT", "redisq")
	t.Setenv("PULSAR_REDIS_DB", "4")
	t.Setenv("PULSAR_INVOCATION_TIMEOUT", "250ms")
	t.Setenv("PULSAR_METRICS_ENABLED", "true")
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Worker.ID != "from-env" || cfg.Worker.SyncWorkers != 2 {
		t.Fatalf("unexpected worker config: %+v", cfg.Worker)
	}
	if cfg.Transport.Kind != TransportRedisQ || cfg.Transport.Redis.DB != 4 {
		t.Fatalf("unexpected transport: %+v", cfg.Transport)
	}
	if cfg.Worker.InvocationTimeout.Std() != 250*time.Millisecond || !cfg.Observability.Metrics.Enabled {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("PULSAR_SYNC_WORKERS", "many")
	t.Setenv("PULSAR_VSOCK_PORT", "-1")
	err := LoadFromEnv(cfg)
	if err == nil || !strings.Contains(err.Error(), "PULSAR_SYNC_WORKERS") || !strings.Contains(err.Error(), "PULSAR_VSOCK_PORT") {
		t.Fatalf("expected both variables reported, got %v", err)
	}
	if cfg.Worker.SyncWorkers != DefaultConfig().Worker.SyncWorkers {
		t.Fatal("invalid value must leave the field unchanged")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.Worker.SyncWorkers = 0 }, "sync_workers"},
		{"unknown kind", func(c *Config) { c.Transport.Kind = "pigeon" }, "transport.kind"},
		{"unknown network", func(c *Config) { c.Transport.Network = "udp" }, "transport.network"},
		{"vsock without port", func(c *Config) { c.Transport.Network = "vsock"; c.Transport.VsockPort = 0 }, "vsock_port"},
		{"rpc without host", func(c *Config) { c.Transport.Kind = TransportRPC; c.Transport.Host = "" }, "transport.host"},
		{"negative timeout", func(c *Config) { c.Worker.InvocationTimeout = -1 }, "invocation_timeout"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}
