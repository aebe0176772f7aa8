package modules

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

// headerCheck scores one header value, returning score, issues and a recommendation.
type headerCheck func(value string) (int, []string, string)

type headerSpec struct {
	name           string
	severity       recon.Severity
	maxScore       int
	check          headerCheck
	recommendation string
}

var securityHeaderSpecs = []headerSpec{
	{"Strict-Transport-Security", recon.SeverityHigh, 20, checkHSTS,
		"Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains; preload'"},
	{"Content-Security-Policy", recon.SeverityHigh, 20, checkCSP,
		"Implement a strict Content-Security-Policy appropriate for your application"},
	{"X-Frame-Options", recon.SeverityHigh, 15, checkXFrameOptions,
		"Add 'X-Frame-Options: DENY' or 'SAMEORIGIN'"},
	{"X-Content-Type-Options", recon.SeverityHigh, 15, checkXContentTypeOptions,
		"Add 'X-Content-Type-Options: nosniff'"},
	{"Referrer-Policy", recon.SeverityMedium, 10, checkReferrerPolicy,
		"Add 'Referrer-Policy: strict-origin-when-cross-origin' or 'no-referrer'"},
	{"Permissions-Policy", recon.SeverityMedium, 10, checkPermissionsPolicy,
		"Add 'Permissions-Policy' to control browser features (e.g., 'geolocation=(), microphone=()')"},
	{"Cross-Origin-Opener-Policy", recon.SeverityMedium, 5, checkCOOP,
		"Add 'Cross-Origin-Opener-Policy: same-origin'"},
	{"Cross-Origin-Embedder-Policy", recon.SeverityMedium, 5, checkCOEP,
		"Add 'Cross-Origin-Embedder-Policy: require-corp'"},
	{"Content-Type", recon.SeverityMedium, 5, checkContentType,
		"Add 'Content-Type' header with appropriate charset (e.g., 'text/html; charset=utf-8')"},
}

// informationDisclosureHeaders lists headers that should be removed/obfuscated
var informationDisclosureHeaders = []string{
	"Server",
	"X-Powered-By",
	"X-AspNet-Version",
	"X-AspNetMvc-Version",
}

// HeadersModule grades the target's HTTP security headers and cookie flags.
type HeadersModule struct {
	fetcher Fetcher
	logger  *zap.Logger
}

func (m *HeadersModule) Kind() recon.Module { return recon.ModuleHeaders }

func (m *HeadersModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	resp, err := m.fetcher.Execute(ctx, target.URL, transport.RequestOptions{DirectOnly: true})
	if err != nil {
		return nil, err
	}

	result := AnalyzeSecurityHeaders(resp.Header)
	result.URL = target.URL
	result.StatusCode = resp.StatusCode
	result.Cookies = AnalyzeCookies(resp.Cookies())
	result.Provenance = resp.Meta.Provenance()
	return result, nil
}

// AnalyzeSecurityHeaders analyzes HTTP response headers for security best practices
func AnalyzeSecurityHeaders(headers http.Header) recon.HeadersResult {
	result := recon.HeadersResult{
		Headers: make(map[string]recon.HeaderStatus, len(securityHeaderSpecs)),
	}

	for _, spec := range securityHeaderSpecs {
		result.MaxScore += spec.maxScore
		value := headers.Get(spec.name)
		if value == "" {
			result.Headers[spec.name] = recon.HeaderStatus{
				Severity:       spec.severity,
				MaxScore:       spec.maxScore,
				Recommendation: spec.recommendation,
			}
			result.Missing = append(result.Missing, spec.name)
			result.Recommendations = append(result.Recommendations, spec.recommendation)
			continue
		}

		score, issues, recommendation := spec.check(value)
		score = min(max(score, 0), spec.maxScore)
		result.Headers[spec.name] = recon.HeaderStatus{
			Present:        true,
			Value:          value,
			Severity:       spec.severity,
			Score:          score,
			MaxScore:       spec.maxScore,
			Issues:         issues,
			Recommendation: recommendation,
		}
		result.Score += score
	}

	checkDeprecatedHeaders(headers, &result)
	checkInformationDisclosure(headers, &result)
	result.Grade = calculateGrade(result.Score, result.MaxScore)
	return result
}

// AnalyzeCookies reports cookies set without Secure or HttpOnly.
func AnalyzeCookies(cookies []*http.Cookie) []recon.CookieFinding {
	var findings []recon.CookieFinding
	for _, c := range cookies {
		f := recon.CookieFinding{
			Name:            c.Name,
			MissingSecure:   !c.Secure,
			MissingHTTPOnly: !c.HttpOnly,
			SameSite:        sameSiteName(c.SameSite),
		}
		if f.MissingSecure || f.MissingHTTPOnly {
			findings = append(findings, f)
		}
	}
	return findings
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

func checkHSTS(value string) (int, []string, string) {
	var issues []string
	score := 20
	recommendation := ""
	value = strings.ToLower(value)

	switch {
	case !strings.Contains(value, "max-age="):
		issues = append(issues, "Missing 'max-age' directive")
		score -= 10
	case strings.Contains(value, "max-age=0"):
		issues = append(issues, "max-age is set to 0 (HSTS disabled)")
		score = 0
	case !strings.Contains(value, "max-age=31536000") && !strings.Contains(value, "max-age=63072000"):
		issues = append(issues, "Consider increasing max-age to at least 31536000 (1 year)")
		score -= 3
	}

	if !strings.Contains(value, "includesubdomains") {
		issues = append(issues, "Missing 'includeSubDomains' directive")
		score -= 5
		recommendation = "Add 'includeSubDomains' to protect all subdomains"
	}
	if !strings.Contains(value, "preload") {
		issues = append(issues, "Missing 'preload' directive (optional but recommended)")
		score -= 2
	}
	if len(issues) == 0 {
		recommendation = "Excellent HSTS configuration"
	}
	return score, issues, recommendation
}

func checkCSP(value string) (int, []string, string) {
	var issues []string
	score := 20
	value = strings.ToLower(value)
	directives := parseCSPDirectives(value)

	if strings.Contains(value, "'unsafe-inline'") {
		issues = append(issues, "Contains 'unsafe-inline' which weakens CSP protection")
		score -= 5
	}
	if strings.Contains(value, "'unsafe-eval'") {
		issues = append(issues, "Contains 'unsafe-eval' which allows eval() and similar functions")
		score -= 5
	}
	if strings.Contains(value, "*") {
		issues = append(issues, "Contains wildcard (*) which is too permissive")
		score -= 3
	}
	if _, ok := directives["default-src"]; !ok {
		issues = append(issues, "Missing 'default-src' directive (recommended fallback)")
		score -= 3
	}
	if _, ok := directives["script-src"]; !ok {
		issues = append(issues, "Consider adding 'script-src' directive for script control")
		score -= 2
	}
	for _, token := range directives["script-src"] {
		switch {
		case token == "data:", token == "blob:", token == "filesystem:":
			issues = append(issues, fmt.Sprintf("Script sources allow %s URLs which can enable CSP bypasses", token))
			score -= 2
		case strings.HasPrefix(token, "http:"):
			issues = append(issues, "Script sources allow insecure http scheme")
			score -= 2
		}
	}

	if len(issues) == 0 {
		return score, issues, "CSP is present with good configuration"
	}
	return score, issues, "Review and strengthen your Content-Security-Policy"
}

func parseCSPDirectives(value string) map[string][]string {
	result := make(map[string][]string)
	for _, part := range strings.Split(value, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		result[fields[0]] = fields[1:]
	}
	return result
}

func checkXFrameOptions(value string) (int, []string, string) {
	value = strings.ToUpper(strings.TrimSpace(value))
	switch {
	case value == "DENY" || value == "SAMEORIGIN":
		return 15, nil, "X-Frame-Options is properly configured"
	case strings.HasPrefix(value, "ALLOW-FROM"):
		return 5, []string{"ALLOW-FROM is deprecated and not supported by modern browsers"},
			"Use Content-Security-Policy frame-ancestors instead"
	default:
		return 0, []string{"Invalid X-Frame-Options value"}, "Set to 'DENY' or 'SAMEORIGIN'"
	}
}

func checkXContentTypeOptions(value string) (int, []string, string) {
	if strings.EqualFold(strings.TrimSpace(value), "nosniff") {
		return 15, nil, "X-Content-Type-Options is properly configured"
	}
	return 0, []string{"Invalid value, should be 'nosniff'"}, "Set to 'nosniff'"
}

func checkReferrerPolicy(value string) (int, []string, string) {
	value = strings.ToLower(value)
	for _, good := range []string{"no-referrer", "strict-origin", "strict-origin-when-cross-origin", "same-origin"} {
		if strings.Contains(value, good) && !strings.Contains(value, "no-referrer-when-downgrade") {
			return 10, nil, "Referrer-Policy is properly configured"
		}
	}
	if strings.Contains(value, "unsafe-url") || strings.Contains(value, "origin-when-cross-origin") {
		return 5, []string{"Policy may leak sensitive information in referrer"},
			"Use 'strict-origin-when-cross-origin' or 'no-referrer'"
	}
	return 7, []string{"Unusual or weak referrer policy"}, ""
}

func checkPermissionsPolicy(value string) (int, []string, string) {
	if len(value) < 10 {
		return 7, []string{"Permissions-Policy seems minimal, consider adding more restrictions"}, "Permissions-Policy is present"
	}
	return 10, nil, "Permissions-Policy is present"
}

func checkCOOP(value string) (int, []string, string) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "same-origin", "same-origin-allow-popups":
		return 5, nil, "Cross-Origin-Opener-Policy is properly configured"
	case "unsafe-none":
		return 1, []string{"COOP is set to 'unsafe-none' which provides no protection"}, "Set to 'same-origin' for better isolation"
	default:
		return 0, []string{"Invalid COOP value"}, "Set to 'same-origin'"
	}
}

func checkCOEP(value string) (int, []string, string) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "require-corp", "credentialless":
		return 5, nil, "Cross-Origin-Embedder-Policy is properly configured"
	case "unsafe-none":
		return 1, []string{"COEP is set to 'unsafe-none' which provides no protection"}, "Set to 'require-corp'"
	default:
		return 0, []string{"Invalid COEP value"}, "Set to 'require-corp' or 'credentialless'"
	}
}

func checkContentType(value string) (int, []string, string) {
	value = strings.ToLower(value)
	isText := false
	for _, textType := range []string{"text/html", "text/plain", "text/css", "text/javascript", "application/javascript", "application/json"} {
		if strings.Contains(value, textType) {
			isText = true
			break
		}
	}
	if isText && !strings.Contains(value, "charset") {
		return 2, []string{"Text content should specify charset (e.g., charset=utf-8)"},
			"Add charset parameter to Content-Type (e.g., 'text/html; charset=utf-8')"
	}
	return 5, nil, "Content-Type header is present"
}

func checkDeprecatedHeaders(headers http.Header, result *recon.HeadersResult) {
	if xss := headers.Get("X-XSS-Protection"); xss != "" && xss != "0" {
		result.Warnings = append(result.Warnings,
			"X-XSS-Protection is deprecated and may introduce vulnerabilities. Set to '0' or remove it.")
	}
	if headers.Get("Expect-CT") != "" {
		result.Warnings = append(result.Warnings, "Expect-CT is deprecated. Remove this header.")
	}
	if headers.Get("Public-Key-Pins") != "" {
		result.Warnings = append(result.Warnings,
			"Public-Key-Pins (HPKP) is deprecated and dangerous. Remove this header immediately.")
	}
}

func checkInformationDisclosure(headers http.Header, result *recon.HeadersResult) {
	for _, name := range informationDisclosureHeaders {
		if value := headers.Get(name); value != "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s header exposes server information: '%s'. Consider removing or obfuscating.", name, value))
		}
	}
}

// calculateGrade converts a score to a letter grade
func calculateGrade(score, maxScore int) string {
	if maxScore == 0 {
		return "F"
	}
	percentage := float64(score) / float64(maxScore) * 100
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	case percentage >= 50:
		return "E"
	default:
		return "F"
	}
}
