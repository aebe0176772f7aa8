package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/api"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run seca-recon as a REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		server := cliConfig.Server

		// Initialize structured logger
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() {
			if err := logger.Sync(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
			}
		}()

		registerRuntimeCollectors(appCtx.Registry)
		defaults, err := cliConfig.scanConfig("")
		if err != nil {
			return err
		}
		if err := validateServeDefaults(defaults); err != nil {
			return fmt.Errorf("invalid scan defaults: %w", err)
		}
		orchestrator := appCtx.Services.ScanOrchestrator

		handler := api.NewServer(api.Config{
			Scans:       orchestrator,
			Defaults:    defaults,
			Gatherer:    appCtx.Registry,
			AuthToken:   server.AuthToken,
			Logger:      logger,
			CORSOrigins: server.CORSOrigins,
			RateLimit:   server.RateLimit,
			RateBurst:   server.RateBurst,
		})

		httpServer := &http.Server{
			Addr:        server.Addr,
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			// No WriteTimeout: the SSE stream stays open for the life of the client.
			IdleTimeout: 120 * time.Second,
		}

		// Channel to listen for errors from the server
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("%s API server listening on %s (results dir: %s)\n", colorInfo("→"), server.Addr, appCtx.ResultsDir)
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Printf("\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(ctx); err != nil {
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}

			// running scans are paused so they can be resumed after restart
			if err := orchestrator.Shutdown(ctx); err != nil {
				logger.Warn("scans did not pause cleanly", zap.Error(err))
			}
			fmt.Printf("%s Server shutdown complete\n", colorInfo("✓"))
		}

		return nil
	},
}

// registerRuntimeCollectors adds Go runtime and process metrics to the /metrics registry.
func registerRuntimeCollectors(reg *prometheus.Registry) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				fmt.Fprintf(os.Stderr, "failed to register collector: %v\n", err)
			}
		}
	}
}

// validateServeDefaults checks the configured defaults once at startup instead of on every request.
func validateServeDefaults(defaults scan.Config) error {
	defaults.Target = "example.com"
	return defaults.WithDefaults().Validate()
}

func init() {
	serveCmd.Flags().StringVar(&cliConfig.Server.Addr, "addr", cliConfig.Server.Addr, "Address for the API server")
	serveCmd.Flags().StringVar(&cliConfig.Server.AuthToken, "auth-token", "", "Optional shared secret for API requests")
	serveCmd.Flags().DurationVar(&cliConfig.Server.ShutdownTimeout, "shutdown-timeout", cliConfig.Server.ShutdownTimeout, "Graceful shutdown timeout")
	serveCmd.Flags().StringSliceVar(&cliConfig.Server.CORSOrigins, "cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().IntVar(&cliConfig.Server.RateLimit, "rate-limit", cliConfig.Server.RateLimit, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().IntVar(&cliConfig.Server.RateBurst, "rate-burst", cliConfig.Server.RateBurst, "Rate limit burst size")
	rootCmd.AddCommand(serveCmd)
}
