package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/deploy"
	"github.com/GoCodeAlone/modwire/httpapi"
	"github.com/GoCodeAlone/modwire/resolver"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand(verbose *bool) *cobra.Command {
	var (
		addr       string
		deployDir  string
		configFile string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a container behind the HTTP API",
		Long: `Run a container and serve its API. With --deploy-dir, descriptor files in
the directory are installed at startup and kept in sync while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := newLogger(cmd.ErrOrStderr(), "wirectl", *verbose)
			return runServe(ctx, logger, addr, deployDir, configFile)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&deployDir, "deploy-dir", "", "Directory of module descriptors to deploy")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Container configuration file (YAML or TOML)")
	return cmd
}

func runServe(ctx context.Context, logger modwire.Logger, addr, deployDir, configFile string) error {
	cfg, err := modwire.LoadConfigFile(configFile)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := modwire.NewContainer(resolver.New(resolver.WithLogger(logger)),
		modwire.WithConfig(cfg),
		modwire.WithLogger(logger),
		modwire.WithMetrics(registry),
	)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logger.Error("Failed to close container", "error", err)
		}
	}()

	watchErr := make(chan error, 1)
	if deployDir != "" {
		w, err := deploy.New(c, deploy.Config{Dir: deployDir, Logger: logger})
		if err != nil {
			return err
		}
		if err := w.Scan(ctx); err != nil {
			logger.Warn("Initial deployment incomplete", "dir", w.Dir(), "error", err)
		}
		go func() { watchErr <- w.Run(ctx) }()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.New(c, httpapi.WithGatherer(registry), httpapi.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Serving container API", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	case err := <-watchErr:
		if err != nil {
			logger.Error("Deploy watcher stopped", "error", err)
		}
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
