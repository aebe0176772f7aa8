// Package testutil provides a temporary results directory seeded with scan records
// for command tests.
package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	jsonrepo "github.com/khanhnv2901/seca-recon/internal/infrastructure/persistence/json"
	consts "github.com/khanhnv2901/seca-recon/internal/shared/constants"
	"github.com/khanhnv2901/seca-recon/internal/shared/security"
)

// TestEnv holds test environment configuration and cleanup functions.
type TestEnv struct {
	TmpDir       string
	ResultsDir   string
	Repo         *jsonrepo.ScanRepository
	cleanupFuncs []func()
	t            *testing.T
}

// NewTestEnv creates a new test environment with automatic cleanup.
// Usage:
//
//	env := testutil.NewTestEnv(t)
//	defer env.Cleanup()
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	return NewTestEnvIn(t, tmpDir, filepath.Join(tmpDir, "scans"))
}

// NewTestEnvIn creates a test environment whose scan records live in resultsDir,
// for tests that seed the directory an application container already uses.
func NewTestEnvIn(t *testing.T, tmpDir, resultsDir string) *TestEnv {
	t.Helper()

	if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
		t.Fatalf("Failed to create test results directory: %v", err)
	}

	repo, err := jsonrepo.NewScanRepository(resultsDir)
	if err != nil {
		t.Fatalf("Failed to create scan repository: %v", err)
	}

	return &TestEnv{
		TmpDir:       tmpDir,
		ResultsDir:   resultsDir,
		Repo:         repo,
		t:            t,
		cleanupFuncs: []func(){},
	}
}

// SeedScan persists a scan for target in the given status. Paused scans keep the
// first module completed; completed scans carry a DNS result.
func (e *TestEnv) SeedScan(target string, status scan.Status, modules ...recon.Module) *scan.Scan {
	e.t.Helper()

	if len(modules) == 0 {
		modules = []recon.Module{recon.ModuleDNS, recon.ModuleHeaders}
	}
	s, err := scan.NewScan(scan.Config{Target: target, Modules: modules})
	if err != nil {
		e.t.Fatalf("Failed to create scan: %v", err)
	}

	switch status {
	case scan.StatusRunning:
	case scan.StatusPaused:
		e.must(s.BeginModule(0, modules[0]))
		e.must(s.RecordModuleError(modules[0], errors.New("seeded failure")))
		e.must(s.Pause())
	case scan.StatusCompleted:
		for i, m := range modules {
			e.must(s.BeginModule(i, m))
			if m == recon.ModuleDNS {
				e.must(s.RecordResult(recon.DNSResult{
					Domain:   target,
					Resolver: consts.DefaultDoHEndpoint,
					Records: map[string][]recon.DNSRecord{
						"A": {{Type: "A", Name: target, Value: "93.184.216.34", TTL: 300}},
					},
				}))
				continue
			}
			e.must(s.RecordModuleError(m, errors.New("seeded failure")))
		}
		e.must(s.Complete())
	case scan.StatusFailed:
		e.must(s.Fail("seeded failure"))
	default:
		e.t.Fatalf("unsupported seed status %q", status)
	}

	if err := e.Repo.Save(context.Background(), s); err != nil {
		e.t.Fatalf("Failed to save scan: %v", err)
	}
	return s
}

func (e *TestEnv) must(err error) {
	e.t.Helper()
	if err != nil {
		e.t.Fatalf("seed transition failed: %v", err)
	}
}

// AddCleanup adds a cleanup function to be called when Cleanup() is called.
// Cleanup functions are called in reverse order (LIFO).
func (e *TestEnv) AddCleanup(fn func()) {
	e.cleanupFuncs = append([]func(){fn}, e.cleanupFuncs...)
}

// Cleanup runs all registered cleanup functions.
// Typically called with defer: defer env.Cleanup()
func (e *TestEnv) Cleanup() {
	for _, fn := range e.cleanupFuncs {
		fn()
	}
}

// CreateFile creates a file in the test environment with the given content.
// The file path is relative to the test's temporary directory.
func (e *TestEnv) CreateFile(relativePath string, content []byte) string {
	e.t.Helper()

	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, consts.DefaultDirPerm); err != nil {
		e.t.Fatalf("Failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(fullPath, content, consts.DefaultFilePerm); err != nil {
		e.t.Fatalf("Failed to create file %s: %v", fullPath, err)
	}

	return fullPath
}

// FileExists checks if a file exists in the test environment.
func (e *TestEnv) FileExists(relativePath string) bool {
	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	_, err := os.Stat(fullPath)
	return err == nil
}

// MustNotExist fails the test if the file exists.
func (e *TestEnv) MustNotExist(relativePath string) {
	e.t.Helper()
	if e.FileExists(relativePath) {
		e.t.Fatalf("File %s should not exist but does", relativePath)
	}
}

// MustExist fails the test if the file does not exist.
func (e *TestEnv) MustExist(relativePath string) {
	e.t.Helper()
	if !e.FileExists(relativePath) {
		e.t.Fatalf("File %s should exist but does not", relativePath)
	}
}

// RecordPath returns the path of a scan record relative to TmpDir.
func (e *TestEnv) RecordPath(id string) string {
	return filepath.Join("scans", id+".json")
}

func resolveTmpPath(baseDir, relativePath string, t *testing.T) string {
	t.Helper()
	path, err := security.ResolveWithin(baseDir, relativePath)
	if err != nil {
		t.Fatalf("invalid test path %s: %v", relativePath, err)
	}
	return path
}
