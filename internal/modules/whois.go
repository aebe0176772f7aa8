package modules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

const whoisRawLimit = 4096

// WhoisModule queries registration data for the target's registrable domain.
type WhoisModule struct {
	client WhoisClient
	logger *zap.Logger
}

func newWhoisClient(timeout time.Duration) WhoisClient {
	c := whois.NewClient()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

func (m *WhoisModule) Kind() recon.Module { return recon.ModuleWhois }

func (m *WhoisModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	query := target.Domain
	if target.IsIP() {
		query = target.Host
	}

	type reply struct {
		raw string
		err error
	}
	done := make(chan reply, 1)
	go func() {
		raw, err := m.client.Whois(query)
		done <- reply{raw: raw, err: err}
	}()

	var raw string
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", transport.ErrAborted, context.Cause(ctx))
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("whois query for %s: %w", query, r.err)
		}
		raw = r.raw
	}

	result := recon.WhoisResult{Domain: query, QueriedAt: time.Now().UTC(), Raw: truncate(raw, whoisRawLimit)}

	info, err := whoisparser.Parse(raw)
	if err != nil {
		if errors.Is(err, whoisparser.ErrNotFoundDomain) {
			return nil, fmt.Errorf("domain %s is not registered", query)
		}
		// Unparseable formats are common for ccTLDs and IP registries; keep the raw text.
		result.ParseError = err.Error()
		m.logger.Debug("whois parse failed", zap.String("domain", query), zap.Error(err))
		return result, nil
	}

	if d := info.Domain; d != nil {
		result.CreatedDate = d.CreatedDate
		result.UpdatedDate = d.UpdatedDate
		result.ExpirationDate = d.ExpirationDate
		result.NameServers = lowerAll(d.NameServers)
		result.Status = d.Status
		result.DNSSEC = d.DNSSec
	}
	if r := info.Registrar; r != nil {
		result.Registrar = firstNonEmpty(r.Name, r.Organization)
	}
	if r := info.Registrant; r != nil {
		result.RegistrantOrg = firstNonEmpty(r.Organization, r.Name)
		result.RegistrantCountry = r.Country
	}
	return result, nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
