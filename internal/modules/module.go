// Package modules implements the reconnaissance modules a scan runs in sequence.
// Every module performs its network I/O through the scan's executor, except the
// raw-socket modules (ports, whois) which honour the scan context directly.
package modules

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

// Module is one reconnaissance step.
type Module interface {
	Kind() recon.Module
	Run(ctx context.Context, target Target) (recon.Result, error)
}

// Fetcher issues HTTP requests through the scan's resilient executor.
type Fetcher interface {
	Execute(ctx context.Context, rawURL string, opts transport.RequestOptions) (*transport.Response, error)
}

// WhoisClient performs raw WHOIS queries.
type WhoisClient interface {
	Whois(domain string, servers ...string) (string, error)
}

// Dialer opens TCP connections for the port module.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Env carries the dependencies shared by the modules of one scan.
type Env struct {
	Fetcher  Fetcher
	Config   scan.Config
	Logger   *zap.Logger
	Whois    WhoisClient
	Dialer   Dialer
	CRTShURL string
}

// New builds the module for kind.
func New(kind recon.Module, env Env) (Module, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.Fetcher == nil {
		return nil, fmt.Errorf("module %s: fetcher is required", kind)
	}
	logger := env.Logger.With(zap.String("module", string(kind)))

	switch kind {
	case recon.ModuleDNS:
		return &DNSModule{fetcher: env.Fetcher, endpoint: env.Config.DoHEndpoint, threads: env.Config.Threads, logger: logger}, nil
	case recon.ModuleWhois:
		client := env.Whois
		if client == nil {
			client = newWhoisClient(env.Config.Timeout)
		}
		return &WhoisModule{client: client, logger: logger}, nil
	case recon.ModuleSubdomains:
		endpoint := env.CRTShURL
		if endpoint == "" {
			endpoint = defaultCRTShURL
		}
		return &SubdomainModule{fetcher: env.Fetcher, endpoint: endpoint, logger: logger}, nil
	case recon.ModulePorts:
		dialer := env.Dialer
		if dialer == nil {
			dialer = &net.Dialer{Timeout: portDialTimeout(env.Config.Timeout)}
		}
		return &PortModule{dialer: dialer, ports: env.Config.Ports, threads: env.Config.Threads, logger: logger}, nil
	case recon.ModuleHeaders:
		return &HeadersModule{fetcher: env.Fetcher, logger: logger}, nil
	case recon.ModuleCORS:
		return &CORSModule{fetcher: env.Fetcher, logger: logger}, nil
	case recon.ModuleWAF:
		return &WAFModule{fetcher: env.Fetcher, logger: logger}, nil
	case recon.ModuleSQLi, recon.ModuleXSS, recon.ModuleLFI:
		return newVulnModule(kind, env, logger)
	default:
		return nil, fmt.Errorf("unknown module %q", kind)
	}
}

func portDialTimeout(scanTimeout time.Duration) time.Duration {
	const max = 3 * time.Second
	if scanTimeout <= 0 || scanTimeout > max {
		return max
	}
	return scanTimeout
}
