// Package compliance maps reconnaissance results to the security frameworks their
// weaknesses are reported against.
package compliance

// Framework represents a compliance or weakness classification framework
type Framework struct {
	ID          string // Unique identifier (e.g., "owasp", "cwe")
	Name        string // Display name
	Description string // Brief description
	Region      string // Geographic region (e.g., "Global", "Singapore")
}

// SupportedFrameworks returns the frameworks references are reported for, in display order
func SupportedFrameworks() []Framework {
	return []Framework{
		{
			ID:          "owasp",
			Name:        "OWASP Top 10:2021",
			Description: "Most critical web application security risks",
			Region:      "Global",
		},
		{
			ID:          "cwe",
			Name:        "CWE",
			Description: "Common Weakness Enumeration",
			Region:      "Global",
		},
		{
			ID:          "iso27001",
			Name:        "ISO/IEC 27001:2022",
			Description: "Information Security Management System standard",
			Region:      "Global",
		},
		{
			ID:          "pdpa",
			Name:        "PDPA (Personal Data Protection Act)",
			Description: "Singapore's data protection law",
			Region:      "Singapore",
		},
	}
}

// GetFramework returns a framework by ID
func GetFramework(id string) (Framework, bool) {
	for _, f := range SupportedFrameworks() {
		if f.ID == id {
			return f, true
		}
	}
	return Framework{}, false
}
