package probe

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

// Reflection contexts for an unencoded payload.
const (
	ContextScript    = "script"
	ContextEvent     = "event-handler"
	ContextAttribute = "attribute"
	ContextHTML      = "html"
)

var contextConfidence = map[string]float64{
	ContextScript:    0.95,
	ContextEvent:     0.9,
	ContextAttribute: 0.9,
	ContextHTML:      0.85,
}

var (
	eventHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	urlAttrs     = map[string]bool{"href": true, "src": true, "action": true, "formaction": true, "data": true}
	inertText    = map[string]bool{"style": true, "textarea": true, "title": true, "xmp": true, "noembed": true, "noframes": true, "iframe": true}
)

// XSSDetector recognises payloads reflected without encoding and classifies where
// they landed in the document.
type XSSDetector struct {
	catalog *Catalog
}

// NewXSSDetector builds a detector from catalog; nil loads the embedded catalog.
func NewXSSDetector(catalog *Catalog) (*XSSDetector, error) {
	if catalog == nil {
		var err error
		if catalog, err = LoadCatalog(recon.ModuleXSS); err != nil {
			return nil, err
		}
	}
	return &XSSDetector{catalog: catalog}, nil
}

func (d *XSSDetector) Module() recon.Module { return recon.ModuleXSS }

func (d *XSSDetector) Catalog() *Catalog { return d.catalog }

func (d *XSSDetector) Inject(original string, p recon.Payload) string {
	return original + p.Value
}

func (d *XSSDetector) Match(p recon.Payload, resp, baseline *transport.Response) (Signal, bool) {
	body := resp.Text()
	idx := strings.Index(body, p.Value)
	if idx < 0 {
		return Signal{}, false
	}
	if baseline != nil && strings.Contains(baseline.Text(), p.Value) {
		return Signal{}, false
	}

	where, ok := ReflectionContext(body, idx, p.Value)
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Type:       p.Type,
		Indicator:  "payload reflected unencoded in " + where + " context",
		Evidence:   evidence(body, idx, idx+len(p.Value)),
		Confidence: contextConfidence[where],
	}, true
}

// DifferentialType disables the differential signal; reflection alone changes size.
func (d *XSSDetector) DifferentialType(bool) string {
	return ""
}

// ReflectionContext classifies the token of body containing offset idx, where payload
// was found. It reports false for inert locations such as comments or textarea.
func ReflectionContext(body string, idx int, payload string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(body))
	offset := 0
	rawParent := ""

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return "", false
		}
		raw := z.Raw()
		start, end := offset, offset+len(raw)
		offset = end

		var name string
		var attrs []html.Attribute
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken || tt == html.EndTagToken {
			n, hasAttr := z.TagName()
			name = string(n)
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				attrs = append(attrs, html.Attribute{Key: string(k), Val: string(v)})
			}
		}

		if idx >= start && idx < end {
			return classifyToken(tt, rawParent, attrs, idx == start, payload)
		}

		switch tt {
		case html.StartTagToken:
			if name == "script" || inertText[name] {
				rawParent = name
			}
		case html.EndTagToken:
			if name == rawParent {
				rawParent = ""
			}
		}
	}
}

func classifyToken(tt html.TokenType, rawParent string, attrs []html.Attribute, tokenStartsWithPayload bool, payload string) (string, bool) {
	switch tt {
	case html.TextToken:
		if rawParent == "script" {
			return ContextScript, true
		}
		if inertText[rawParent] {
			return "", false
		}
		if strings.Contains(payload, "<") {
			return ContextHTML, true
		}
	case html.StartTagToken, html.SelfClosingTagToken:
		if tokenStartsWithPayload {
			return ContextHTML, true
		}
		if eventHandler.MatchString(payload) {
			return ContextEvent, true
		}
		if strings.HasPrefix(strings.ToLower(payload), "javascript:") {
			for _, a := range attrs {
				if urlAttrs[strings.ToLower(a.Key)] && strings.HasPrefix(strings.ToLower(a.Val), "javascript:") {
					return ContextAttribute, true
				}
			}
			return "", false
		}
		if strings.ContainsAny(payload, `"'>`) {
			return ContextAttribute, true
		}
	case html.EndTagToken:
		if tokenStartsWithPayload {
			return ContextHTML, true
		}
	}
	return "", false
}
