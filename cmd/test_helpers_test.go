package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/application"
	scanapp "github.com/khanhnv2901/seca-recon/internal/application/scan"
	consts "github.com/khanhnv2901/seca-recon/internal/shared/constants"
)

var errTest = errors.New("test failure")

// setupTestAppContext initializes a minimal AppContext for tests that don't need services.
func setupTestAppContext(t *testing.T) func() {
	t.Helper()
	return setupTestAppContextWithOptions(t, false)
}

// setupTestAppContextWithServices initializes an AppContext with a real orchestrator
// backed by a temporary results directory.
func setupTestAppContextWithServices(t *testing.T) func() {
	t.Helper()
	return setupTestAppContextWithOptions(t, true)
}

func setupTestAppContextWithOptions(t *testing.T, includeServices bool) func() {
	t.Helper()

	original := globalAppContext

	dataDir := os.Getenv(dataDirEnvVar)
	if dataDir == "" {
		dataDir = t.TempDir()
		t.Setenv(dataDirEnvVar, dataDir)
	} else {
		// Ensure the directory exists if the test already set the env var.
		if err := os.MkdirAll(dataDir, consts.DefaultDirPerm); err != nil {
			t.Fatalf("failed to create data directory: %v", err)
		}
	}

	resultsDir := filepath.Join(dataDir, "scans")
	if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
		t.Fatalf("failed to create results directory: %v", err)
	}

	appCtx := &AppContext{
		Logger:     nil,
		ResultsDir: resultsDir,
		Config:     newCLIConfig(),
	}

	if includeServices {
		services, err := application.NewContainer(resultsDir, scanapp.Options{Logger: zap.NewNop()})
		if err != nil {
			t.Fatalf("failed to initialize services: %v", err)
		}
		appCtx.Services = services
	}

	globalAppContext = appCtx

	return func() {
		if appCtx.Services != nil {
			_ = appCtx.Services.ScanOrchestrator.Shutdown(context.Background())
		}
		globalAppContext = original
	}
}

// runCommand invokes a command's RunE with a background context and captures its output.
func runCommand(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	c.SetContext(context.Background())
	t.Cleanup(func() {
		c.SetOut(nil)
		c.SetErr(nil)
	})

	err := c.RunE(c, args)
	return buf.String(), err
}

// setFlag sets a command flag for the duration of the test.
func setFlag(t *testing.T, c *cobra.Command, name, value string) {
	t.Helper()
	flag := c.Flags().Lookup(name)
	if flag == nil {
		t.Fatalf("flag %s not defined on %s", name, c.Name())
	}
	original := flag.Value.String()
	if err := c.Flags().Set(name, value); err != nil {
		t.Fatalf("failed to set flag %s: %v", name, err)
	}
	t.Cleanup(func() {
		_ = flag.Value.Set(original)
		flag.Changed = false
	})
}
