package compliance

import (
	"sort"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
)

// Mapping ties the weakness a module detects to framework requirements.
type Mapping struct {
	Module     recon.Module
	Weakness   string
	Frameworks map[string][]string // Framework ID -> Requirement IDs
	Priority   string              // Critical, High, Medium, Low
}

// GetComplianceMappings returns the mapping of modules to compliance requirements.
// Purely informational modules (dns, whois, waf) have no entry.
func GetComplianceMappings() map[recon.Module]Mapping {
	return map[recon.Module]Mapping{
		recon.ModuleSQLi: {
			Module:   recon.ModuleSQLi,
			Weakness: "SQL injection",
			Frameworks: map[string][]string{
				"owasp":    {"A03:2021"},
				"cwe":      {"CWE-89"},
				"iso27001": {"A.8.28"},
				"pdpa":     {"Protection Obligation 24"},
			},
			Priority: "Critical",
		},
		recon.ModuleXSS: {
			Module:   recon.ModuleXSS,
			Weakness: "Cross-site scripting",
			Frameworks: map[string][]string{
				"owasp":    {"A03:2021"},
				"cwe":      {"CWE-79"},
				"iso27001": {"A.8.28"},
			},
			Priority: "High",
		},
		recon.ModuleLFI: {
			Module:   recon.ModuleLFI,
			Weakness: "Path traversal / local file inclusion",
			Frameworks: map[string][]string{
				"owasp":    {"A01:2021"},
				"cwe":      {"CWE-22", "CWE-98"},
				"iso27001": {"A.8.28", "A.8.3"},
				"pdpa":     {"Protection Obligation 24"},
			},
			Priority: "Critical",
		},
		recon.ModuleCORS: {
			Module:   recon.ModuleCORS,
			Weakness: "Permissive cross-origin policy",
			Frameworks: map[string][]string{
				"owasp":    {"A05:2021"},
				"cwe":      {"CWE-942"},
				"iso27001": {"A.8.26"},
			},
			Priority: "High",
		},
		recon.ModuleHeaders: {
			Module:   recon.ModuleHeaders,
			Weakness: "Missing security headers",
			Frameworks: map[string][]string{
				"owasp":    {"A05:2021"},
				"cwe":      {"CWE-693", "CWE-1021"},
				"iso27001": {"A.8.9", "A.8.26"},
			},
			Priority: "Medium",
		},
		recon.ModulePorts: {
			Module:   recon.ModulePorts,
			Weakness: "Exposed network services",
			Frameworks: map[string][]string{
				"owasp":    {"A05:2021"},
				"cwe":      {"CWE-200"},
				"iso27001": {"A.8.20", "A.8.22"},
				"pdpa":     {"Protection Obligation 24"},
			},
			Priority: "High",
		},
		recon.ModuleSubdomains: {
			Module:   recon.ModuleSubdomains,
			Weakness: "Unmanaged attack surface",
			Frameworks: map[string][]string{
				"iso27001": {"A.5.9"},
			},
			Priority: "Low",
		},
	}
}

// ForModule returns the mapping of one module.
func ForModule(m recon.Module) (Mapping, bool) {
	mapping, ok := GetComplianceMappings()[m]
	return mapping, ok
}

// References formats the requirement IDs in framework display order,
// e.g. "OWASP A03:2021", "CWE-89".
func (m Mapping) References() []string {
	var refs []string
	for _, f := range SupportedFrameworks() {
		for _, req := range m.Frameworks[f.ID] {
			switch f.ID {
			case "cwe":
				refs = append(refs, req)
			case "owasp":
				refs = append(refs, "OWASP "+req)
			case "iso27001":
				refs = append(refs, "ISO27001 "+req)
			default:
				refs = append(refs, f.ID+" "+req)
			}
		}
	}
	return refs
}

// GetModulesForFramework returns the modules with requirements in a framework
func GetModulesForFramework(frameworkID string) []recon.Module {
	var out []recon.Module
	for m, mapping := range GetComplianceMappings() {
		if _, ok := mapping.Frameworks[frameworkID]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Applies reports whether a result shows the weakness its module maps to.
func Applies(result recon.Result) bool {
	switch r := result.(type) {
	case recon.VulnResult:
		return r.Vulnerable
	case recon.CORSResult:
		return r.Vulnerable
	case recon.HeadersResult:
		return len(r.Missing) > 0
	case recon.PortResult:
		return r.RiskLevel == recon.SeverityHigh || r.RiskLevel == recon.SeverityCritical || r.RiskLevel == recon.SeverityMedium
	case recon.SubdomainResult:
		return len(r.Subdomains) > 0
	default:
		return false
	}
}
