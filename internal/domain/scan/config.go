package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
)

// Config is the immutable settings snapshot a scan was started with.
// Resume reuses it verbatim.
type Config struct {
	Target       string            `json:"target"`
	Modules      []recon.Module    `json:"modules"`
	Threads      int               `json:"threads"`
	Timeout      time.Duration     `json:"timeout"`
	Retries      int               `json:"retries"`
	RetryDelay   time.Duration     `json:"retry_delay"`
	PayloadLimit int               `json:"payload_limit"`
	Pacing       time.Duration     `json:"pacing"`
	Relays       []string          `json:"relays,omitempty"`
	DoHEndpoint  string            `json:"doh_endpoint"`
	Ports        []int             `json:"ports,omitempty"`
	APIKeys      map[string]string `json:"-"`
}

// WithDefaults fills zero values with engine defaults.
func (c Config) WithDefaults() Config {
	out := c
	out.Target = strings.TrimSpace(out.Target)
	if len(out.Modules) == 0 {
		out.Modules = recon.AllModules()
	}
	if out.Threads <= 0 {
		out.Threads = constants.DefaultThreads
	}
	if out.Timeout <= 0 {
		out.Timeout = constants.DefaultTimeout
	}
	if out.Retries < 0 {
		out.Retries = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = constants.DefaultRetryDelay
	}
	if out.PayloadLimit <= 0 {
		out.PayloadLimit = constants.DefaultPayloadLimit
	}
	if out.Pacing < 0 {
		out.Pacing = 0
	}
	if out.DoHEndpoint == "" {
		out.DoHEndpoint = constants.DefaultDoHEndpoint
	}
	return out
}

// Validate checks that the configuration can drive a scan.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return sharedErrors.ErrEmptyTarget
	}
	if len(c.Modules) == 0 {
		return sharedErrors.ErrNoModules
	}
	seen := make(map[recon.Module]bool, len(c.Modules))
	for _, m := range c.Modules {
		if !m.Valid() {
			return fmt.Errorf("%w: %q", sharedErrors.ErrUnknownModule, m)
		}
		if seen[m] {
			return fmt.Errorf("%w: module %q listed twice", sharedErrors.ErrInvalidInput, m)
		}
		seen[m] = true
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("%w: port %d out of range", sharedErrors.ErrInvalidInput, p)
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Modules = append([]recon.Module(nil), c.Modules...)
	out.Relays = append([]string(nil), c.Relays...)
	out.Ports = append([]int(nil), c.Ports...)
	if c.APIKeys != nil {
		out.APIKeys = make(map[string]string, len(c.APIKeys))
		for k, v := range c.APIKeys {
			out.APIKeys[k] = v
		}
	}
	return out
}
