package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show configuration, data directory paths and stored scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)

		dataDir, err := getDataDir()
		if err != nil {
			return fmt.Errorf("failed to get data directory: %w", err)
		}

		resultsExists := "✗ (not created yet)"
		if _, err := os.Stat(appCtx.ResultsDir); err == nil {
			resultsExists = "✓ (exists)"
		}

		configPath := configFilePath()
		configExists := "✗ (using defaults)"
		if used := viper.ConfigFileUsed(); used != "" {
			configPath = used
			configExists = "✓ (loaded)"
		} else if _, err := os.Stat(configPath); err == nil {
			configExists = "✓ (exists)"
		}

		counts := map[scan.Status]int{}
		if appCtx.Services != nil {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if scans, err := appCtx.Services.ScanRepo.FindAll(ctx); err == nil {
				for _, s := range scans {
					counts[s.Status()]++
				}
			}
		}

		cfg := appCtx.Config
		if cfg == nil {
			cfg = newCLIConfig()
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "seca-recon System Information")
		fmt.Fprintln(out, "=============================")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Platform:          %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Version:           %s\n", Version)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Data Locations:")
		fmt.Fprintf(out, "  Data Directory:     %s\n", dataDir)
		fmt.Fprintf(out, "  Results Directory:  %s %s\n", appCtx.ResultsDir, resultsExists)
		fmt.Fprintf(out, "Configuration File:   %s %s\n", configPath, configExists)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Scan Defaults:")
		fmt.Fprintf(out, "  Threads: %d  Timeout: %ds  Retries: %d  Retry delay: %dms\n",
			cfg.Scan.Threads, cfg.Scan.TimeoutSecs, cfg.Scan.Retries, cfg.Scan.RetryDelayMS)
		fmt.Fprintf(out, "  Payload limit: %d  Pacing: %dms  Relays: %d\n",
			cfg.Scan.PayloadLimit, cfg.Scan.PacingMS, len(cfg.Relays))
		fmt.Fprintf(out, "  DoH endpoint: %s\n", cfg.DoHEndpoint)
		fmt.Fprintf(out, "  Modules available: %d\n", len(recon.AllModules()))
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Stored Scans:")
		for _, status := range []scan.Status{scan.StatusRunning, scan.StatusPaused, scan.StatusCompleted, scan.StatusFailed} {
			fmt.Fprintf(out, "  %-10s %d\n", status, counts[status])
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "To override the data directory, set %s or add to %s:\n", dataDirEnvVar, configFilePath())
		fmt.Fprintln(out, "  results_dir: /custom/path/to/scans")

		return nil
	},
}
