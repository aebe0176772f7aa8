package probe

import (
	"regexp"
	"strings"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

var (
	passwdLine  = regexp.MustCompile(`root:[^:\n]*:0:0:`)
	passwdShell = regexp.MustCompile(`:/bin/(ba)?sh`)
	phpSource   = regexp.MustCompile(`<\?php`)
	base64PHP   = regexp.MustCompile(`PD9waH[A-Za-z0-9+/=]{16,}`)
)

type fileMarker struct {
	name       string
	pattern    *regexp.Regexp
	confidence float64
}

var fileMarkers = []fileMarker{
	{"win.ini", regexp.MustCompile(`(?m)^\[fonts\]`), 0.95},
	{"system.ini", regexp.MustCompile(`(?m)^\[extensions\]`), 0.95},
	{"boot.ini", regexp.MustCompile(`(?m)^\[boot loader\]`), 0.95},
	{"php source", phpSource, 0.8},
	{"base64 php source", base64PHP, 0.8},
}

// LFIDetector recognises local file contents returned for traversal payloads.
type LFIDetector struct {
	catalog *Catalog
}

// NewLFIDetector builds a detector from catalog; nil loads the embedded catalog.
func NewLFIDetector(catalog *Catalog) (*LFIDetector, error) {
	if catalog == nil {
		var err error
		if catalog, err = LoadCatalog(recon.ModuleLFI); err != nil {
			return nil, err
		}
	}
	return &LFIDetector{catalog: catalog}, nil
}

func (d *LFIDetector) Module() recon.Module { return recon.ModuleLFI }

func (d *LFIDetector) Catalog() *Catalog { return d.catalog }

// Inject appends the file path to the parameter value.
func (d *LFIDetector) Inject(original string, p recon.Payload) string {
	return original + p.Value
}

func (d *LFIDetector) Match(p recon.Payload, resp, baseline *transport.Response) (Signal, bool) {
	body := resp.Text()
	var baseBody string
	if baseline != nil {
		baseBody = baseline.Text()
	}

	if loc := passwdLine.FindStringIndex(body); loc != nil && !passwdLine.MatchString(baseBody) {
		sig := Signal{
			Type:       p.Type,
			Indicator:  "/etc/passwd entry",
			Evidence:   evidence(body, loc[0], loc[1]),
			Confidence: 0.9,
		}
		if passwdShell.MatchString(body) {
			sig.Indicator = "/etc/passwd entry with login shell"
			sig.Confidence = 0.99
		}
		return sig, true
	}

	for _, m := range fileMarkers {
		loc := m.pattern.FindStringIndex(body)
		if loc == nil || m.pattern.MatchString(baseBody) {
			continue
		}
		if m.name == "php source" && !strings.Contains(strings.ToLower(p.Value), "php") {
			continue
		}
		return Signal{
			Type:       p.Type,
			Indicator:  m.name + " content",
			Evidence:   evidence(body, loc[0], loc[1]),
			Confidence: m.confidence,
		}, true
	}
	return Signal{}, false
}

func (d *LFIDetector) DifferentialType(bool) string {
	return "differential"
}
