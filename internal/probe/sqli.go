package probe

import (
	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

// SQLiDetector recognises database error messages leaked by injected quotes.
type SQLiDetector struct {
	catalog *Catalog
}

// NewSQLiDetector builds a detector from catalog; nil loads the embedded catalog.
func NewSQLiDetector(catalog *Catalog) (*SQLiDetector, error) {
	if catalog == nil {
		var err error
		if catalog, err = LoadCatalog(recon.ModuleSQLi); err != nil {
			return nil, err
		}
	}
	return &SQLiDetector{catalog: catalog}, nil
}

func (d *SQLiDetector) Module() recon.Module { return recon.ModuleSQLi }

func (d *SQLiDetector) Catalog() *Catalog { return d.catalog }

func (d *SQLiDetector) Inject(original string, p recon.Payload) string {
	return original + p.Value
}

func (d *SQLiDetector) Match(p recon.Payload, resp, baseline *transport.Response) (Signal, bool) {
	body := resp.Text()
	for _, set := range d.catalog.Signatures {
		for _, re := range set.compiled {
			loc := re.FindStringIndex(body)
			if loc == nil {
				continue
			}
			if baseline != nil && re.MatchString(baseline.Text()) {
				continue
			}
			return Signal{
				Type:       "error-based",
				Indicator:  set.Name + " error message",
				Evidence:   evidence(body, loc[0], loc[1]),
				Confidence: set.Confidence,
			}, true
		}
	}
	return Signal{}, false
}

func (d *SQLiDetector) DifferentialType(serverError bool) string {
	if serverError {
		return "error-based"
	}
	return "boolean-based"
}
