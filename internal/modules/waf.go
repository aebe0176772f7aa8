package modules

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

const (
	wafCategoryWAF  = "waf"
	wafCategoryCDN  = "cdn"
	wafCategoryDDoS = "ddos"

	headerConfidence  = 0.9
	cookieConfidence  = 0.85
	bodyConfidence    = 0.7
	unknownConfidence = 0.6
	extraEvidenceStep = 0.05
	maxWAFConfidence  = 0.99
)

// wafAttackQuery combines XSS and SQLi markers that any rule set should react to.
var wafAttackQuery = url.Values{
	"q":  {"<script>alert(1)</script>"},
	"id": {"1' OR '1'='1"},
}

var blockingStatuses = map[int]bool{403: true, 406: true, 429: true, 501: true, 999: true}

type wafSignature struct {
	name     string
	category string
	headers  map[string]*regexp.Regexp
	cookies  []*regexp.Regexp
	body     []*regexp.Regexp
}

var present = regexp.MustCompile(`.+`)

var wafSignatures = []wafSignature{
	{
		name: "Cloudflare", category: wafCategoryWAF,
		headers: map[string]*regexp.Regexp{"CF-RAY": present, "Server": regexp.MustCompile(`(?i)cloudflare`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^(__cfduid|__cf_bm|cf_clearance)$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)Attention Required! \| Cloudflare`), regexp.MustCompile(`(?i)Cloudflare Ray ID:`)},
	},
	{
		name: "Akamai", category: wafCategoryCDN,
		headers: map[string]*regexp.Regexp{"X-Akamai-Transformed": present, "Akamai-GRN": present, "Server": regexp.MustCompile(`(?i)AkamaiGHost`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^(ak_bmsc|bm_sz|_abck)$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)Reference #\d+\.[0-9a-f]+\.\d+\.[0-9a-f]+`)},
	},
	{
		name: "Amazon CloudFront", category: wafCategoryCDN,
		headers: map[string]*regexp.Regexp{"X-Amz-Cf-Id": present, "X-Amz-Cf-Pop": present, "Via": regexp.MustCompile(`(?i)cloudfront`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)The request could not be satisfied`)},
	},
	{
		name: "AWS WAF", category: wafCategoryWAF,
		headers: map[string]*regexp.Regexp{"X-Amzn-Waf-Action": present, "Server": regexp.MustCompile(`(?i)awselb`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^(AWSALB|AWSALBCORS|aws-waf-token)$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)aws\s*waf`)},
	},
	{
		name: "Imperva Incapsula", category: wafCategoryWAF,
		headers: map[string]*regexp.Regexp{"X-Iinfo": present, "X-CDN": regexp.MustCompile(`(?i)incapsula`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^(incap_ses_.*|visid_incap_.*|nlbi_.*)$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)Incapsula incident ID`), regexp.MustCompile(`(?i)_Incapsula_Resource`)},
	},
	{
		name: "Sucuri", category: wafCategoryWAF,
		headers: map[string]*regexp.Regexp{"X-Sucuri-ID": present, "X-Sucuri-Cache": present, "Server": regexp.MustCompile(`(?i)Sucuri`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^sucuri_cloudproxy_uuid_.*$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)Sucuri WebSite Firewall`)},
	},
	{
		name: "F5 BIG-IP ASM", category: wafCategoryWAF,
		headers: map[string]*regexp.Regexp{"X-WA-Info": present, "Server": regexp.MustCompile(`(?i)BigIP|BIG-IP`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^(TS[0-9a-f]{6,}|BIGipServer.*|F5_.*)$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)The requested URL was rejected\. Please consult with your administrator`)},
	},
	{
		name: "Barracuda", category: wafCategoryWAF,
		cookies: []*regexp.Regexp{regexp.MustCompile(`^barra_counter_session$`), regexp.MustCompile(`^BNI__BARRACUDA_LB_COOKIE$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)Barracuda Networks`)},
	},
	{
		name: "Fastly", category: wafCategoryCDN,
		headers: map[string]*regexp.Regexp{"X-Fastly-Request-ID": present, "Fastly-Debug-Digest": present, "X-Served-By": regexp.MustCompile(`(?i)cache-`)},
	},
	{
		name: "ModSecurity", category: wafCategoryWAF,
		headers: map[string]*regexp.Regexp{"Server": regexp.MustCompile(`(?i)mod_security|NOYB`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)This error was generated by Mod_Security`), regexp.MustCompile(`(?i)ModSecurity Action`)},
	},
	{
		name: "Wordfence", category: wafCategoryWAF,
		cookies: []*regexp.Regexp{regexp.MustCompile(`^wfvt_\d+$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)Generated by Wordfence`), regexp.MustCompile(`(?i)blocked by Wordfence`)},
	},
	{
		name: "DDoS-Guard", category: wafCategoryDDoS,
		headers: map[string]*regexp.Regexp{"Server": regexp.MustCompile(`(?i)ddos-guard`)},
		cookies: []*regexp.Regexp{regexp.MustCompile(`^__ddg\d*$`)},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)DDoS-Guard`)},
	},
	{
		name: "StackPath", category: wafCategoryDDoS,
		headers: map[string]*regexp.Regexp{"X-SP-URL": present, "X-SP-WL": present},
		body:    []*regexp.Regexp{regexp.MustCompile(`(?i)StackPath`)},
	},
}

// WAFModule fingerprints protection products from a benign and a hostile request.
type WAFModule struct {
	fetcher Fetcher
	logger  *zap.Logger
}

func (m *WAFModule) Kind() recon.Module { return recon.ModuleWAF }

func (m *WAFModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	opts := transport.RequestOptions{DirectOnly: true}
	benign, err := m.fetcher.Execute(ctx, target.URL, opts)
	if err != nil {
		return nil, err
	}
	result := recon.WAFResult{URL: target.URL, Provenance: benign.Meta.Provenance()}
	responses := []*transport.Response{benign}

	attack, err := m.fetcher.Execute(ctx, attackURL(target.URL), opts)
	switch {
	case err == nil:
		responses = append(responses, attack)
		result.Provenance = result.Provenance.Merge(attack.Meta.Provenance())
		if blockingStatuses[attack.StatusCode] && !blockingStatuses[benign.StatusCode] {
			result.Blocking = true
			result.BlockStatus = attack.StatusCode
		}
	case transport.IsAborted(err):
		return nil, err
	default:
		m.logger.Debug("attack request failed", zap.Error(err))
	}

	result.Matches = DetectWAF(responses...)
	if result.Blocking && len(result.Matches) == 0 {
		result.Matches = append(result.Matches, recon.WAFMatch{
			Name:       "unknown",
			Category:   wafCategoryWAF,
			Confidence: unknownConfidence,
			Indicators: []string{"attack request blocked with status " + strconv.Itoa(result.BlockStatus)},
		})
	}
	result.Detected = len(result.Matches) > 0
	return result, nil
}

// DetectWAF matches every signature against the responses' headers, cookies and bodies.
func DetectWAF(responses ...*transport.Response) []recon.WAFMatch {
	var matches []recon.WAFMatch
	for _, sig := range wafSignatures {
		var indicators []string
		kinds := map[float64]bool{}
		for _, resp := range responses {
			for _, name := range sortedKeys(sig.headers) {
				if v := resp.Header.Get(name); v != "" && sig.headers[name].MatchString(v) {
					indicators = appendUnique(indicators, "header "+name)
					kinds[headerConfidence] = true
				}
			}
			for _, c := range resp.Cookies() {
				for _, re := range sig.cookies {
					if re.MatchString(c.Name) {
						indicators = appendUnique(indicators, "cookie "+c.Name)
						kinds[cookieConfidence] = true
					}
				}
			}
			for _, re := range sig.body {
				if re.Match(resp.Body) {
					indicators = appendUnique(indicators, "body /"+re.String()+"/")
					kinds[bodyConfidence] = true
				}
			}
		}
		if len(indicators) == 0 {
			continue
		}
		matches = append(matches, recon.WAFMatch{
			Name:       sig.name,
			Category:   sig.category,
			Confidence: combineConfidence(kinds),
			Indicators: indicators,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// combineConfidence takes the strongest evidence kind and adds a step for each other kind.
func combineConfidence(kinds map[float64]bool) float64 {
	best := 0.0
	for c := range kinds {
		best = max(best, c)
	}
	best += extraEvidenceStep * float64(len(kinds)-1)
	return min(float64(int(best*100+0.5))/100, maxWAFConfidence)
}

func attackURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, v := range wafAttackQuery {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func sortedKeys(m map[string]*regexp.Regexp) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return list
		}
	}
	return append(list, s)
}
