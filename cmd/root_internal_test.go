package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
)

func TestStoreAndGetAppContext(t *testing.T) {
	original := globalAppContext
	defer func() {
		globalAppContext = original
	}()

	cmd := &cobra.Command{Use: "root"}
	appCtx := &AppContext{ResultsDir: "/tmp/scans"}

	storeAppContext(cmd, appCtx)

	got := getAppContext(cmd)
	if got != appCtx {
		t.Fatalf("expected stored app context to be returned")
	}
}

func TestGetAppContextFallsBackToGlobal(t *testing.T) {
	original := globalAppContext
	defer func() {
		globalAppContext = original
	}()

	appCtx := &AppContext{ResultsDir: "/tmp/scans"}
	globalAppContext = appCtx

	cmd := &cobra.Command{Use: "child"}
	cmd.SetContext(context.Background())
	if got := getAppContext(cmd); got != appCtx {
		t.Fatalf("expected global app context")
	}
	if got := getAppContext(nil); got != appCtx {
		t.Fatalf("expected global app context for nil command")
	}
}

func TestAppContextLoggerNilSafe(t *testing.T) {
	var appCtx *AppContext
	appCtx.logger().Info("no panic")

	(&AppContext{}).logger().Debug("no panic")
}

func TestNewLoggerLevels(t *testing.T) {
	l, err := newLogger(false)
	if err != nil {
		t.Fatalf("newLogger(false): %v", err)
	}
	if l.Core().Enabled(-1) {
		t.Fatal("debug should be disabled without --debug")
	}

	l, err = newLogger(true)
	if err != nil {
		t.Fatalf("newLogger(true): %v", err)
	}
	if !l.Core().Enabled(-1) {
		t.Fatal("debug should be enabled with --debug")
	}
}

func TestRootRegistersCommands(t *testing.T) {
	want := map[string]bool{"scan": false, "modules": false, "info": false, "version": false, "serve": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}
}
