package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/convert"
	"github.com/haasonsaas/conduit/internal/files"
	"github.com/haasonsaas/conduit/internal/format"
	"github.com/haasonsaas/conduit/internal/httpapi"
	"github.com/haasonsaas/conduit/internal/mcp"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/store"
	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/internal/vector"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := observability.StartTracing(ctx, observability.TraceConfig{
		ServiceName:    "conduit",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	logger.Info("store ready", "type", cfg.Store.Type)

	var pool *mcp.Pool
	if cfg.MCP.Enabled {
		pool = mcp.NewPool(logger)
	}
	reg := registry.New(pool)

	if cfg.MCP.Enabled {
		servers, err := mcp.LoadServers(cfg.MCP.ConfigPath)
		if err != nil {
			return err
		}
		for label, entry := range servers.MCPServers {
			if _, err := pool.Get(ctx, label, entry.URL, entry.Headers); err != nil {
				logger.Warn("mcp server unavailable at startup", "label", label, "error", err)
				continue
			}
			logger.Info("mcp server connected", "label", label, "url", entry.URL)
		}
	}

	router := provider.NewRouter(cfg.Providers)

	var fileService files.Service
	if cfg.Files.Dir != "" {
		local, err := files.NewLocal(cfg.Files.Dir)
		if err != nil {
			return err
		}
		fileService = local
	} else {
		fileService = files.NewMemory()
	}

	index := vector.NewIndex()
	reg.Register(tools.NewThink(logger))
	reg.Register(tools.NewFileSearch(index))
	reg.Register(tools.NewAgenticSearch(index, tools.NewLLMDecider(router)))
	reg.Register(tools.NewImageGeneration(cfg.Providers.OpenAI))
	reg.Register(tools.NewBraveWebSearch(os.Getenv("BRAVE_API_KEY")))

	loop := orchestrator.New(orchestrator.Options{
		Router:    router,
		Converter: convert.New(reg, fileService),
		Registry:  reg,
		Store:     st,
		Formatter: format.New(reg),
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
		Loop:      cfg.Loop,
	})

	apiServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewServer(loop, st, logger, metrics).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api server listening", "addr", cfg.Server.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	if pool != nil {
		pool.Close()
	}
	if err := st.Close(shutdownCtx); err != nil {
		logger.Error("store close", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "mongodb":
		return store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case "sqlite":
		return store.NewSQLite(cfg.SQLite.Path)
	default:
		return store.NewMemory(), nil
	}
}
