package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	if got := buf.String(); got != "seca-recon version "+Version+"\n" {
		t.Fatalf("unexpected output %q", got)
	}

	buf.Reset()
	setFlag(t, versionCmd, "verbose", "true")
	versionCmd.Run(versionCmd, nil)
	for _, want := range []string{"Git Commit:", "Go Version:", "OS/Arch:"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in verbose output, got:\n%s", want, buf.String())
		}
	}
}

func TestBuildInfoWrite(t *testing.T) {
	b := buildInfo{Version: "1.2.0", Commit: "abc123", Date: "2026-01-02", Modified: true, GoVersion: "go1.24.0", Platform: "linux/amd64"}

	var buf bytes.Buffer
	b.write(&buf, true)
	for _, want := range []string{"Version:    1.2.0", "Git Commit: abc123 (modified)", "Built:      2026-01-02", "OS/Arch:    linux/amd64"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in output, got:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	b.write(&buf, false)
	if buf.String() != "seca-recon version 1.2.0\n" {
		t.Errorf("unexpected short output %q", buf.String())
	}
}
