package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/khanhnv2901/seca-recon/internal/application"
	scanapp "github.com/khanhnv2901/seca-recon/internal/application/scan"
	consts "github.com/khanhnv2901/seca-recon/internal/shared/constants"
)

const envPrefix = "SECA_RECON"

var cfgFile string
var resultsDirFlag string
var debug bool

var rootCmd = &cobra.Command{
	Use:   "seca-recon",
	Short: "Attack-surface reconnaissance for authorized targets (for lawful testing only)",
	Long: `seca-recon runs reconnaissance and lightweight vulnerability probes against a
target you are authorized to test. Scans are persisted after every step and
can be paused, resumed or stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		applyConfigDefaults(cmd)

		resultsDir := resultsDirFlag
		if resultsDir == "" {
			resultsDir = cliConfig.ResultsDir
		}
		if resultsDir == "" {
			dir, err := getResultsDir()
			if err != nil {
				return err
			}
			resultsDir = dir
		}
		if abs, err := filepath.Abs(resultsDir); err == nil {
			resultsDir = abs
		}
		if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}

		l, err := newLogger(debug)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		registry := prometheus.NewRegistry()
		services, err := application.NewContainer(resultsDir, scanapp.Options{
			Logger:   l,
			Registry: registry,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize services: %w", err)
		}

		storeAppContext(cmd, &AppContext{
			Logger:     l.Sugar(),
			ResultsDir: resultsDir,
			Config:     cliConfig,
			Registry:   registry,
			Services:   services,
		})
		l.Debug("initialized", zap.String("results_dir", resultsDir))
		return nil
	},
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".seca-recon")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// newLogger builds the production zap logger. CLI runs only log warnings unless debug is set.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.seca-recon.yaml)")
	rootCmd.PersistentFlags().StringVar(&resultsDirFlag, "results-dir", "", "directory for scan records (default is the data directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(versionCmd)
}
