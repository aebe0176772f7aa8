package json

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
)

func newTestScan(t *testing.T, target string) *scan.Scan {
	t.Helper()
	s, err := scan.NewScan(scan.Config{
		Target:  target,
		Modules: []recon.Module{recon.ModuleHeaders, recon.ModuleSQLi},
		Relays:  []string{"https://relay.example/?u={url}"},
		Ports:   []int{80, 443},
	}.WithDefaults())
	if err != nil {
		t.Fatalf("NewScan: %v", err)
	}
	return s
}

func TestScanRepositoryRoundTrip(t *testing.T) {
	repo, err := NewScanRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewScanRepository: %v", err)
	}
	ctx := context.Background()

	s := newTestScan(t, "https://example.com")
	if err := s.BeginModule(0, recon.ModuleHeaders); err != nil {
		t.Fatal(err)
	}
	headers := recon.HeadersResult{URL: "https://example.com/", Score: 70, MaxScore: 105, Grade: "D",
		Provenance: recon.Provenance{Trust: recon.TrustRelay, Relay: "https://relay.example/?u={url}", RelayIndex: 1, Attempts: 2}}
	if err := s.RecordResult(headers); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginModule(1, recon.ModuleSQLi); err != nil {
		t.Fatal(err)
	}
	vuln := recon.VulnResult{Kind: recon.ModuleSQLi, URL: "https://example.com/?id=1", Vulnerable: true,
		Findings: []recon.Finding{{Parameter: "id", Payload: "'", Type: "error-based", Confidence: 0.95}}}
	if err := s.RecordResult(vuln); err != nil {
		t.Fatal(err)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}

	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := repo.FindByID(ctx, s.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if loaded.Status() != scan.StatusPaused {
		t.Fatalf("expected paused, got %s", loaded.Status())
	}
	if got := loaded.Progress(); got.Current != 2 || got.Total != 2 {
		t.Fatalf("unexpected progress %+v", got)
	}
	if !loaded.IsCompleted(recon.ModuleHeaders) || !loaded.IsCompleted(recon.ModuleSQLi) {
		t.Fatalf("completed modules not restored: %v", loaded.Completed())
	}
	cfg := loaded.Config()
	if cfg.Target != "https://example.com" || cfg.Timeout != s.Config().Timeout || len(cfg.Relays) != 1 || len(cfg.Ports) != 2 {
		t.Fatalf("config not restored: %+v", cfg)
	}

	gotHeaders, ok := loaded.Result(recon.ModuleHeaders)
	if !ok {
		t.Fatal("headers result missing")
	}
	h, ok := gotHeaders.(recon.HeadersResult)
	if !ok {
		t.Fatalf("headers result has type %T", gotHeaders)
	}
	if h.Grade != "D" || h.Provenance.Trust != recon.TrustRelay || h.Provenance.RelayIndex != 1 {
		t.Fatalf("headers result not restored: %+v", h)
	}

	gotVuln, _ := loaded.Result(recon.ModuleSQLi)
	v, ok := gotVuln.(recon.VulnResult)
	if !ok {
		t.Fatalf("sqli result has type %T", gotVuln)
	}
	if v.Module() != recon.ModuleSQLi || len(v.Findings) != 1 || v.Findings[0].Confidence != 0.95 {
		t.Fatalf("sqli result not restored: %+v", v)
	}
}

func TestScanRepositorySaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	repo, _ := NewScanRepository(dir)
	ctx := context.Background()

	s := newTestScan(t, "example.com")
	if err := repo.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	loaded, err := repo.FindByID(ctx, s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status() != scan.StatusFailed {
		t.Fatalf("expected failed, got %s", loaded.Status())
	}
	if errs := loaded.Errors(); len(errs) != 1 || errs[0] != "stopped by user" {
		t.Fatalf("unexpected errors %v", errs)
	}
	if loaded.FinishedAt().IsZero() {
		t.Fatal("finished time not restored")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, temp files left behind: %d entries", len(entries))
	}
}

func TestScanRepositoryFindAllNewestFirst(t *testing.T) {
	dir := t.TempDir()
	repo, _ := NewScanRepository(dir)
	ctx := context.Background()

	first := newTestScan(t, "a.example.com")
	if err := repo.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second := newTestScan(t, "b.example.com")
	if err := repo.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	// unreadable and foreign files are skipped
	if err := os.WriteFile(filepath.Join(dir, "scan-broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	scans, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(scans))
	}
	if scans[0].ID() != second.ID() || scans[1].ID() != first.ID() {
		t.Fatalf("unexpected order: %s, %s", scans[0].ID(), scans[1].ID())
	}
}

func TestScanRepositoryNotFoundAndDelete(t *testing.T) {
	repo, _ := NewScanRepository(t.TempDir())
	ctx := context.Background()

	if _, err := repo.FindByID(ctx, "scan-missing"); !errors.Is(err, sharedErrors.ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, "scan-missing"); !errors.Is(err, sharedErrors.ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound on delete, got %v", err)
	}

	s := newTestScan(t, "example.com")
	if err := repo.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, s.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, s.ID()); !errors.Is(err, sharedErrors.ErrScanNotFound) {
		t.Fatalf("expected scan to be gone, got %v", err)
	}
}

func TestScanRepositoryRejectsTraversal(t *testing.T) {
	repo, _ := NewScanRepository(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", "", ".hidden"} {
		if _, err := repo.FindByID(ctx, id); !errors.Is(err, sharedErrors.ErrInvalidInput) {
			t.Errorf("FindByID(%q): expected ErrInvalidInput, got %v", id, err)
		}
		if err := repo.Delete(ctx, id); !errors.Is(err, sharedErrors.ErrInvalidInput) {
			t.Errorf("Delete(%q): expected ErrInvalidInput, got %v", id, err)
		}
	}
}

func TestNewScanRepositoryRequiresDir(t *testing.T) {
	if _, err := NewScanRepository(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
