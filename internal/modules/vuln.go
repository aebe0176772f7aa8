package modules

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/probe"
)

// VulnModule runs the shared injection protocol with one detector.
type VulnModule struct {
	fetcher  Fetcher
	detector probe.Detector
	opts     probe.Options
}

func newVulnModule(kind recon.Module, env Env, logger *zap.Logger) (*VulnModule, error) {
	var (
		detector probe.Detector
		err      error
	)
	switch kind {
	case recon.ModuleSQLi:
		detector, err = probe.NewSQLiDetector(nil)
	case recon.ModuleXSS:
		detector, err = probe.NewXSSDetector(nil)
	case recon.ModuleLFI:
		detector, err = probe.NewLFIDetector(nil)
	default:
		return nil, fmt.Errorf("module %s is not an injection probe", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s catalog: %w", kind, err)
	}

	return &VulnModule{
		fetcher:  env.Fetcher,
		detector: detector,
		opts: probe.Options{
			PayloadLimit: env.Config.PayloadLimit,
			Pacing:       env.Config.Pacing,
			Timeout:      env.Config.Timeout,
			Logger:       logger,
		},
	}, nil
}

func (m *VulnModule) Kind() recon.Module { return m.detector.Module() }

func (m *VulnModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	res, err := probe.Run(ctx, m.fetcher, m.detector, target.URL, m.opts)
	if err != nil {
		return nil, err
	}
	return res, nil
}
