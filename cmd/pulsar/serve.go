package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/functions"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/transport/framed"
	"github.com/oriys/pulsar/internal/transport/redisq"
	"github.com/oriys/pulsar/internal/transport/rpc"
	"github.com/oriys/pulsar/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	transport    string
	addr         string
	host         string
	workerID     string
	syncWorkers  int
	logLevel     string
	metricsAddr  string
	functionsDir string
}

func serveCmd() *cobra.Command {
	var f *serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker",
		Long:  "Run the worker on the configured transport until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	f = addServeFlags(cmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command) *serveFlags {
	f := &serveFlags{}
	cmd.Flags().StringVar(&f.transport, "transport", config.TransportFramed, "Transport: framed, rpc or redisq")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address of the framed transport (socket path or host:port)")
	cmd.Flags().StringVar(&f.host, "host", "", "Host gRPC address for the rpc transport")
	cmd.Flags().StringVar(&f.workerID, "worker-id", "", "Worker id (default: random UUID)")
	cmd.Flags().IntVar(&f.syncWorkers, "sync-workers", 0, "Size of the pool running sync functions")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /stats on this address")
	cmd.Flags().StringVar(&f.functionsDir, "functions-dir", "", "Root directory of process functions")
	return f
}

// loadConfig layers defaults, the config file, PULSAR_* variables and the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport.Kind = f.transport
	}
	if flags.Changed("addr") {
		cfg.Transport.Addr = f.addr
	}
	if flags.Changed("host") {
		cfg.Transport.Host = f.host
	}
	if flags.Changed("worker-id") {
		cfg.Worker.ID = f.workerID
	}
	if flags.Changed("sync-workers") {
		cfg.Worker.SyncWorkers = f.syncWorkers
	}
	if flags.Changed("log-level") {
		cfg.Observability.Logging.Level = f.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Observability.Metrics.Enabled = f.metricsAddr != ""
		cfg.Observability.Metrics.Addr = f.metricsAddr
	}
	if flags.Changed("functions-dir") {
		cfg.Worker.FunctionsDir = f.functionsDir
	}

	if cfg.Worker.ID == "" {
		cfg.Worker.ID = uuid.New().String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	tr := cfg.Observability.Tracing
	if err := observability.Init(ctx, observability.Config{
		Enabled:        tr.Enabled,
		Exporter:       tr.Exporter,
		Endpoint:       tr.Endpoint,
		ServiceName:    "pulsar",
		ServiceVersion: version,
		SampleRate:     tr.SampleRate,
		WorkerID:       cfg.Worker.ID,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			logging.Op().Warn("tracing shutdown failed", "error", err)
		}
	}()

	invLog := logging.Default()
	if cfg.Worker.InvocationLog != "" {
		if err := invLog.SetOutput(cfg.Worker.InvocationLog); err != nil {
			return fmt.Errorf("open invocation log: %w", err)
		}
		defer invLog.Close()
	}

	var m *metrics.Metrics
	if cfg.Observability.Metrics.Enabled {
		m = metrics.New(cfg.Observability.Metrics.Namespace, nil)
	}

	loader := functions.Chain{functions.NewCatalog()}
	if cfg.Worker.FunctionsDir != "" {
		loader = append(loader, functions.NewProcessLoader(cfg.Worker.FunctionsDir))
	}

	d := worker.New(loader,
		worker.WithWorkerID(cfg.Worker.ID),
		worker.WithVersion(version),
		worker.WithPoolSize(cfg.Worker.SyncWorkers),
		worker.WithInvocationTimeout(cfg.Worker.InvocationTimeout.Std()),
		worker.WithMetrics(m),
		worker.WithInvocationLog(invLog),
	)
	defer d.Close()

	logging.Op().Info("pulsar worker starting",
		"version", version,
		"worker_id", cfg.Worker.ID,
		"transport", cfg.Transport.Kind,
		"sync_workers", cfg.Worker.SyncWorkers,
	)

	g, ctx := errgroup.WithContext(ctx)
	if m != nil {
		g.Go(func() error { return serveMetrics(ctx, cfg.Observability.Metrics.Addr, m) })
	}
	g.Go(func() error { return runTransport(ctx, cfg, d) })

	err := g.Wait()
	logging.Op().Info("pulsar worker stopped", "worker_id", cfg.Worker.ID)
	return err
}

func runTransport(ctx context.Context, cfg *config.Config, d *worker.Dispatcher) error {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportFramed:
		ln, err := framed.Listen(t.Network, t.Addr, t.VsockPort)
		if err != nil {
			return err
		}
		srv := &framed.Server{Handler: d, MaxMessageSize: t.MaxMessageSize}
		return srv.Serve(ctx, ln)

	case config.TransportRPC:
		c := &rpc.Client{WorkerID: cfg.Worker.ID, Handler: d}
		cc, err := c.Dial(t.Host)
		if err != nil {
			return err
		}
		defer cc.Close()
		logging.Op().Info("rpc transport connecting", "host", t.Host)
		return c.RunWithRetry(ctx, cc)

	case config.TransportRedisQ:
		client := redis.NewClient(&redis.Options{
			Addr:     t.Redis.Addr,
			Password: t.Redis.Password,
			DB:       t.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", t.Redis.Addr, err)
		}
		return redisq.Run(ctx, client, t.Redis.Prefix, cfg.Worker.ID, d)

	default:
		return fmt.Errorf("unknown transport %q", t.Kind)
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/stats", m.JSONHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Op().Info("metrics server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
