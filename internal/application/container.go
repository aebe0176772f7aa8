package application

import (
	"fmt"

	scanapp "github.com/khanhnv2901/seca-recon/internal/application/scan"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	"github.com/khanhnv2901/seca-recon/internal/infrastructure/persistence/json"
)

// Container holds all application services and repositories
// This is a simple dependency injection container
type Container struct {
	// Repositories
	ScanRepo scan.Repository

	// Services
	ScanOrchestrator *scanapp.Orchestrator
}

// NewContainer creates a new application service container
func NewContainer(resultsDir string, opts scanapp.Options) (*Container, error) {
	scanRepo, err := json.NewScanRepository(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan repository: %w", err)
	}

	return &Container{
		ScanRepo:         scanRepo,
		ScanOrchestrator: scanapp.NewOrchestrator(scanRepo, opts),
	}, nil
}
