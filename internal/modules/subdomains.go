package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

const defaultCRTShURL = "https://crt.sh/"

// SubdomainModule enumerates hostnames from certificate transparency logs.
type SubdomainModule struct {
	fetcher  Fetcher
	endpoint string
	logger   *zap.Logger
}

type crtEntry struct {
	NameValue  string `json:"name_value"`
	CommonName string `json:"common_name"`
}

func (m *SubdomainModule) Kind() recon.Module { return recon.ModuleSubdomains }

func (m *SubdomainModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	if target.IsIP() {
		return nil, fmt.Errorf("target %s is an IP address", target.Host)
	}
	domain := target.Domain

	q := url.Values{}
	q.Set("q", "%."+domain)
	q.Set("output", "json")
	resp, err := m.fetcher.Execute(ctx, m.endpoint+"?"+q.Encode(), transport.RequestOptions{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crt.sh returned status %d", resp.StatusCode)
	}

	var entries []crtEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode crt.sh response: %w", err)
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		for _, name := range strings.Split(e.NameValue+"\n"+e.CommonName, "\n") {
			name = strings.ToLower(strings.TrimSpace(name))
			name = strings.TrimPrefix(name, "*.")
			if name == "" || name == domain || !strings.HasSuffix(name, "."+domain) {
				continue
			}
			seen[name] = true
		}
	}

	subs := make([]string, 0, len(seen))
	for name := range seen {
		subs = append(subs, name)
	}
	sort.Strings(subs)

	m.logger.Debug("subdomains enumerated", zap.String("domain", domain), zap.Int("count", len(subs)))
	return recon.SubdomainResult{
		Domain:     domain,
		Subdomains: subs,
		Source:     "crt.sh",
		Provenance: resp.Meta.Provenance(),
	}, nil
}
