package modules

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Target contains parsed target information
type Target struct {
	Original string // Original target string
	Scheme   string // http or https
	Host     string // Hostname (without protocol, path, port)
	Port     string // Port if specified
	Domain   string // Registrable domain (eTLD+1), or Host for IPs
	URL      string // Full normalized URL for HTTP requests
}

// ParseTarget parses a target string into structured components.
// This handles various input formats:
//   - example.com
//   - http://example.com
//   - https://example.com:443/path?id=1
//   - example.com:8080
//
// Targets without a scheme default to https.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target cannot be empty")
	}

	t := Target{Original: raw}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" || strings.Contains(parsed.Scheme, ".") {
		parsed, err = url.Parse("https://" + raw)
		if err != nil {
			return Target{}, fmt.Errorf("invalid target %q: %w", raw, err)
		}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Target{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	t.Scheme = parsed.Scheme
	t.Host = strings.ToLower(parsed.Hostname())
	t.Port = parsed.Port()
	if t.Host == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing host", raw)
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	parsed.Host = strings.ToLower(parsed.Host)
	t.URL = parsed.String()

	t.Domain = t.Host
	if net.ParseIP(t.Host) == nil {
		if d, err := publicsuffix.EffectiveTLDPlusOne(t.Host); err == nil {
			t.Domain = d
		}
	}
	return t, nil
}

// IsIP reports whether the target host is an IP literal.
func (t Target) IsIP() bool {
	return net.ParseIP(t.Host) != nil
}

// Origin is scheme://host[:port] of the target.
func (t Target) Origin() string {
	host := t.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if t.Port != "" {
		host += ":" + t.Port
	}
	return t.Scheme + "://" + host
}
