package recon

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the typed output of one module. Implementations live in this package only.
type Result interface {
	Module() Module
	isResult()
}

// DNSRecord is one resource record returned for the target.
type DNSRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
	TTL   uint32 `json:"ttl"`
}

// DNSResult lists records per type.
type DNSResult struct {
	Domain     string                 `json:"domain"`
	Resolver   string                 `json:"resolver"`
	Records    map[string][]DNSRecord `json:"records"`
	Errors     map[string]string      `json:"errors,omitempty"`
	Provenance Provenance             `json:"provenance"`
}

// WhoisResult holds parsed registration data.
type WhoisResult struct {
	Domain            string    `json:"domain"`
	Registrar         string    `json:"registrar,omitempty"`
	RegistrantOrg     string    `json:"registrant_org,omitempty"`
	RegistrantCountry string    `json:"registrant_country,omitempty"`
	CreatedDate       string    `json:"created_date,omitempty"`
	UpdatedDate       string    `json:"updated_date,omitempty"`
	ExpirationDate    string    `json:"expiration_date,omitempty"`
	NameServers       []string  `json:"name_servers,omitempty"`
	Status            []string  `json:"status,omitempty"`
	DNSSEC            bool      `json:"dnssec"`
	ParseError        string    `json:"parse_error,omitempty"`
	Raw               string    `json:"raw,omitempty"`
	QueriedAt         time.Time `json:"queried_at"`
}

// SubdomainResult lists discovered hostnames under the target domain.
type SubdomainResult struct {
	Domain     string     `json:"domain"`
	Subdomains []string   `json:"subdomains"`
	Source     string     `json:"source"`
	Provenance Provenance `json:"provenance"`
}

// PortInfo describes one open TCP port.
type PortInfo struct {
	Port    int      `json:"port"`
	Service string   `json:"service"`
	Banner  string   `json:"banner,omitempty"`
	Risk    Severity `json:"risk"`
}

// PortResult lists open ports found on the target host.
type PortResult struct {
	Host      string     `json:"host"`
	Scanned   int        `json:"scanned"`
	Open      []PortInfo `json:"open"`
	RiskLevel Severity   `json:"risk_level"`
	Issues    []string   `json:"issues,omitempty"`
}

// HeaderStatus is the evaluation of one security header.
type HeaderStatus struct {
	Present        bool     `json:"present"`
	Value          string   `json:"value,omitempty"`
	Severity       Severity `json:"severity"`
	Score          int      `json:"score"`
	MaxScore       int      `json:"max_score"`
	Issues         []string `json:"issues,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// CookieFinding reports a cookie set without protective flags.
type CookieFinding struct {
	Name            string `json:"name"`
	MissingSecure   bool   `json:"missing_secure"`
	MissingHTTPOnly bool   `json:"missing_httponly"`
	SameSite        string `json:"same_site,omitempty"`
}

// HeadersResult scores the target's HTTP security headers.
type HeadersResult struct {
	URL             string                  `json:"url"`
	StatusCode      int                     `json:"status_code"`
	Score           int                     `json:"score"`
	MaxScore        int                     `json:"max_score"`
	Grade           string                  `json:"grade"`
	Headers         map[string]HeaderStatus `json:"headers"`
	Missing         []string                `json:"missing,omitempty"`
	Warnings        []string                `json:"warnings,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
	Cookies         []CookieFinding         `json:"cookies,omitempty"`
	Provenance      Provenance              `json:"provenance"`
}

// CORSTest is the outcome of one crafted Origin request.
type CORSTest struct {
	Origin           string   `json:"origin"`
	AllowOrigin      string   `json:"allow_origin,omitempty"`
	AllowCredentials bool     `json:"allow_credentials"`
	VaryOrigin       bool     `json:"vary_origin"`
	Vulnerable       bool     `json:"vulnerable"`
	Severity         Severity `json:"severity,omitempty"`
	Description      string   `json:"description,omitempty"`
}

// CORSResult collects the CORS misconfiguration tests.
type CORSResult struct {
	URL        string     `json:"url"`
	Vulnerable bool       `json:"vulnerable"`
	Tests      []CORSTest `json:"tests"`
	Issues     []string   `json:"issues,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// WAFMatch is one identified protection product.
type WAFMatch struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// WAFResult reports WAF and DDoS protection detected in front of the target.
type WAFResult struct {
	URL         string     `json:"url"`
	Detected    bool       `json:"detected"`
	Matches     []WAFMatch `json:"matches,omitempty"`
	Blocking    bool       `json:"blocking"`
	BlockStatus int        `json:"block_status,omitempty"`
	Provenance  Provenance `json:"provenance"`
}

// VulnResult is the outcome of a payload-injection probe.
type VulnResult struct {
	Kind           Module     `json:"kind"`
	URL            string     `json:"url"`
	Vulnerable     bool       `json:"vulnerable"`
	TestedPayloads int        `json:"tested_payloads"`
	Parameters     []string   `json:"parameters"`
	BaselineStatus int        `json:"baseline_status,omitempty"`
	BaselineError  string     `json:"baseline_error,omitempty"`
	Findings       []Finding  `json:"findings"`
	Provenance     Provenance `json:"provenance"`
}

func (DNSResult) Module() Module       { return ModuleDNS }
func (WhoisResult) Module() Module     { return ModuleWhois }
func (SubdomainResult) Module() Module { return ModuleSubdomains }
func (PortResult) Module() Module      { return ModulePorts }
func (HeadersResult) Module() Module   { return ModuleHeaders }
func (CORSResult) Module() Module      { return ModuleCORS }
func (WAFResult) Module() Module       { return ModuleWAF }
func (r VulnResult) Module() Module    { return r.Kind }

func (DNSResult) isResult()       {}
func (WhoisResult) isResult()     {}
func (SubdomainResult) isResult() {}
func (PortResult) isResult()      {}
func (HeadersResult) isResult()   {}
func (CORSResult) isResult()      {}
func (WAFResult) isResult()       {}
func (VulnResult) isResult()      {}

// DecodeResult restores a persisted result for the given module.
func DecodeResult(m Module, raw json.RawMessage) (Result, error) {
	switch m {
	case ModuleDNS:
		return decodeAs[DNSResult](raw)
	case ModuleWhois:
		return decodeAs[WhoisResult](raw)
	case ModuleSubdomains:
		return decodeAs[SubdomainResult](raw)
	case ModulePorts:
		return decodeAs[PortResult](raw)
	case ModuleHeaders:
		return decodeAs[HeadersResult](raw)
	case ModuleCORS:
		return decodeAs[CORSResult](raw)
	case ModuleWAF:
		return decodeAs[WAFResult](raw)
	case ModuleSQLi, ModuleXSS, ModuleLFI:
		res, err := decodeAs[VulnResult](raw)
		if err != nil {
			return nil, err
		}
		v := res.(VulnResult)
		v.Kind = m
		return v, nil
	default:
		return nil, fmt.Errorf("unknown module %q", m)
	}
}

func decodeAs[T Result](raw json.RawMessage) (Result, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
