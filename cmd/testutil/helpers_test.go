package testutil

import (
	"context"
	"testing"

	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	if env.TmpDir == "" || env.ResultsDir == "" {
		t.Fatal("expected directories to be set")
	}
	if env.Repo == nil {
		t.Fatal("expected repository")
	}
	env.MustExist("scans")
}

func TestSeedScan(t *testing.T) {
	env := NewTestEnv(t)

	for _, status := range []scan.Status{scan.StatusRunning, scan.StatusPaused, scan.StatusCompleted, scan.StatusFailed} {
		s := env.SeedScan("example.com", status)
		env.MustExist(env.RecordPath(s.ID()))

		stored, err := env.Repo.FindByID(context.Background(), s.ID())
		if err != nil {
			t.Fatalf("FindByID(%s): %v", status, err)
		}
		if stored.Status() != status {
			t.Fatalf("expected %s, got %s", status, stored.Status())
		}
	}

	scans, err := env.Repo.FindAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 4 {
		t.Fatalf("expected 4 scans, got %d", len(scans))
	}
}

func TestCleanupOrder(t *testing.T) {
	env := NewTestEnv(t)
	var order []int
	env.AddCleanup(func() { order = append(order, 1) })
	env.AddCleanup(func() { order = append(order, 2) })
	env.Cleanup()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected LIFO cleanup, got %v", order)
	}
}

func TestCreateFile(t *testing.T) {
	env := NewTestEnv(t)
	env.MustNotExist("scans/broken.json")
	env.CreateFile("scans/broken.json", []byte("{"))
	env.MustExist("scans/broken.json")
}
