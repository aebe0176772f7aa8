package modules

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

type corsOrigin struct {
	origin      string
	description string
}

func corsTestOrigins(target Target) []corsOrigin {
	host := target.Host
	if target.Domain != "" {
		host = target.Domain
	}
	return []corsOrigin{
		{"https://evil.example", "arbitrary origin"},
		{"null", "null origin"},
		{fmt.Sprintf("%s://%s.evil.example", target.Scheme, host), "prefix match on trusted domain"},
		{fmt.Sprintf("%s://evil%s", target.Scheme, host), "suffix match on trusted domain"},
	}
}

// CORSModule sends crafted Origin headers and checks which ones the target trusts.
type CORSModule struct {
	fetcher Fetcher
	logger  *zap.Logger
}

func (m *CORSModule) Kind() recon.Module { return recon.ModuleCORS }

func (m *CORSModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	result := recon.CORSResult{URL: target.URL}

	for _, o := range corsTestOrigins(target) {
		header := http.Header{}
		header.Set("Origin", o.origin)
		resp, err := m.fetcher.Execute(ctx, target.URL, transport.RequestOptions{Header: header, DirectOnly: true})
		if err != nil {
			if transport.IsAborted(err) || len(result.Tests) == 0 {
				return nil, err
			}
			m.logger.Debug("cors probe failed", zap.String("origin", o.origin), zap.Error(err))
			continue
		}
		result.Provenance = result.Provenance.Merge(resp.Meta.Provenance())

		test := evaluateCORS(o, resp.Header)
		if test.Vulnerable {
			result.Vulnerable = true
		}
		result.Tests = append(result.Tests, test)
		for _, issue := range AnalyzeCORS(resp.Header) {
			if !slices.Contains(result.Issues, issue) {
				result.Issues = append(result.Issues, issue)
			}
		}
	}

	return result, nil
}

func evaluateCORS(o corsOrigin, headers http.Header) recon.CORSTest {
	test := recon.CORSTest{
		Origin:           o.origin,
		AllowOrigin:      headers.Get("Access-Control-Allow-Origin"),
		AllowCredentials: strings.EqualFold(headers.Get("Access-Control-Allow-Credentials"), "true"),
		VaryOrigin:       varyIncludesOrigin(headers.Values("Vary")),
	}

	switch {
	case test.AllowOrigin == "":
	case test.AllowOrigin == "*" && test.AllowCredentials:
		test.Vulnerable = true
		test.Severity = recon.SeverityCritical
		test.Description = "wildcard origin with credentials enabled"
	case test.AllowOrigin == "*":
		test.Severity = recon.SeverityLow
		test.Description = "any origin may read unauthenticated responses"
	case test.AllowOrigin == o.origin:
		test.Vulnerable = true
		test.Severity = recon.SeverityHigh
		if test.AllowCredentials {
			test.Severity = recon.SeverityCritical
		}
		test.Description = "origin reflected: " + o.description
	}
	return test
}

// AnalyzeCORS inspects CORS headers for insecure defaults (OWASP A5:2021).
// Responses without Access-Control-Allow-Origin yield no issues.
func AnalyzeCORS(headers http.Header) []string {
	allowOrigin := headers.Get("Access-Control-Allow-Origin")
	if allowOrigin == "" {
		return nil
	}

	var issues []string
	if allowOrigin == "*" {
		issues = append(issues, "CORS allows any origin (*)")
		if headers.Get("Access-Control-Allow-Credentials") == "true" {
			issues = append(issues, "Credentials allowed with wildcard origin (disallowed by browsers)")
		}
	}
	if strings.Contains(headers.Get("Access-Control-Allow-Headers"), "*") {
		issues = append(issues, "Access-Control-Allow-Headers allows any header (*)")
	}
	if strings.Contains(headers.Get("Access-Control-Expose-Headers"), "*") {
		issues = append(issues, "Access-Control-Expose-Headers exposes all headers (*)")
	}
	if allowOrigin != "*" && !varyIncludesOrigin(headers.Values("Vary")) {
		issues = append(issues, "Vary: Origin header missing (responses may be cached incorrectly)")
	}
	return issues
}

func varyIncludesOrigin(values []string) bool {
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "origin") {
				return true
			}
		}
	}
	return false
}
