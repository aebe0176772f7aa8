package probe

import (
	"embed"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
)

//go:embed catalogs/*.yaml
var catalogFS embed.FS

// Param is a query parameter name with the value used when it has to be invented.
type Param struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// SignatureSet is a named group of response patterns sharing one confidence.
type SignatureSet struct {
	Name       string   `yaml:"name"`
	Confidence float64  `yaml:"confidence"`
	Patterns   []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// Catalog is the payload and signature data for one probe class.
type Catalog struct {
	DefaultParams []Param         `yaml:"default_params"`
	Payloads      []recon.Payload `yaml:"payloads"`
	Signatures    []SignatureSet  `yaml:"signatures"`
}

// ParseCatalog decodes and validates YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(c.Payloads) == 0 {
		return nil, fmt.Errorf("catalog has no payloads")
	}
	for i := range c.Payloads {
		p := &c.Payloads[i]
		if p.Value == "" {
			return nil, fmt.Errorf("payload %d has empty value", i)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return nil, fmt.Errorf("payload %q confidence %.2f out of range", p.Value, p.Confidence)
		}
		if p.Severity == "" {
			p.Severity = recon.SeverityMedium
		}
	}
	for i := range c.Signatures {
		set := &c.Signatures[i]
		for _, pattern := range set.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("signature %s: %w", set.Name, err)
			}
			set.compiled = append(set.compiled, re)
		}
	}
	return &c, nil
}

type catalogEntry struct {
	once    sync.Once
	catalog *Catalog
	err     error
}

var catalogs = map[recon.Module]*catalogEntry{
	recon.ModuleSQLi: {},
	recon.ModuleXSS:  {},
	recon.ModuleLFI:  {},
}

// LoadCatalog returns the embedded catalog for a probe module. Each catalog is parsed
// once per process and shared read-only afterwards.
func LoadCatalog(m recon.Module) (*Catalog, error) {
	entry, ok := catalogs[m]
	if !ok {
		return nil, fmt.Errorf("no payload catalog for module %q", m)
	}
	entry.once.Do(func() {
		data, err := catalogFS.ReadFile("catalogs/" + string(m) + ".yaml")
		if err != nil {
			entry.err = err
			return
		}
		entry.catalog, entry.err = ParseCatalog(data)
	})
	return entry.catalog, entry.err
}
