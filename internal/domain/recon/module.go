// Package recon holds the value types produced by reconnaissance modules.
//
// Every module yields exactly one typed result. The set of modules is closed:
// adding one means adding a Module constant, a result type and a case in
// DecodeResult, and the compiler-visible switch statements keep those in step.
package recon

import (
	"fmt"
	"strings"
)

// Module identifies one reconnaissance module.
type Module string

const (
	ModuleDNS        Module = "dns"
	ModuleWhois      Module = "whois"
	ModuleSubdomains Module = "subdomains"
	ModulePorts      Module = "ports"
	ModuleHeaders    Module = "headers"
	ModuleCORS       Module = "cors"
	ModuleWAF        Module = "waf"
	ModuleSQLi       Module = "sqli"
	ModuleXSS        Module = "xss"
	ModuleLFI        Module = "lfi"
)

var allModules = []Module{
	ModuleDNS,
	ModuleWhois,
	ModuleSubdomains,
	ModulePorts,
	ModuleHeaders,
	ModuleCORS,
	ModuleWAF,
	ModuleSQLi,
	ModuleXSS,
	ModuleLFI,
}

var moduleDescriptions = map[Module]string{
	ModuleDNS:        "DNS records via DNS-over-HTTPS",
	ModuleWhois:      "WHOIS registration data",
	ModuleSubdomains: "Subdomain enumeration from certificate transparency",
	ModulePorts:      "TCP port scan with banner grabbing",
	ModuleHeaders:    "HTTP security headers and cookie flags",
	ModuleCORS:       "CORS misconfiguration checks",
	ModuleWAF:        "WAF and DDoS protection fingerprinting",
	ModuleSQLi:       "SQL injection probing",
	ModuleXSS:        "Reflected XSS probing",
	ModuleLFI:        "Local file inclusion probing",
}

// AllModules returns every module in default execution order.
func AllModules() []Module {
	out := make([]Module, len(allModules))
	copy(out, allModules)
	return out
}

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	_, ok := moduleDescriptions[m]
	return ok
}

// Description returns a one-line human description of the module.
func (m Module) Description() string {
	return moduleDescriptions[m]
}

func (m Module) String() string {
	return string(m)
}

// ParseModule converts a user supplied name into a Module.
func ParseModule(name string) (Module, error) {
	m := Module(strings.ToLower(strings.TrimSpace(name)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q", name)
	}
	return m, nil
}

// ParseModules converts a list of names, dropping duplicates while keeping order.
func ParseModules(names []string) ([]Module, error) {
	seen := make(map[Module]bool, len(names))
	out := make([]Module, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := ParseModule(name)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

// ModuleError tags a module failure with the module that produced it.
type ModuleError struct {
	Module Module
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}
