// Package probe implements the shared payload-injection protocol used by the SQLi,
// XSS and LFI modules: baseline, parameter discovery, payload iteration, signal
// classification, deduplication and a confidence floor.
package probe

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/shared/constants"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

// Fetcher issues HTTP requests on behalf of a probe.
type Fetcher interface {
	Execute(ctx context.Context, rawURL string, opts transport.RequestOptions) (*transport.Response, error)
}

// Signal is one piece of evidence extracted from a probe response.
type Signal struct {
	Type       string
	Indicator  string
	Evidence   string
	Confidence float64
}

// Detector supplies the class-specific parts of the protocol.
type Detector interface {
	Module() recon.Module
	Catalog() *Catalog
	// Inject returns the parameter value to send for payload p.
	Inject(original string, p recon.Payload) string
	// Match looks for class signatures in resp. baseline may be nil.
	Match(p recon.Payload, resp, baseline *transport.Response) (Signal, bool)
	// DifferentialType names findings raised from status or size differences alone.
	// An empty name disables the differential signal for the class.
	DifferentialType(serverError bool) string
}

// Options tunes a probe run.
type Options struct {
	PayloadLimit int
	Pacing       time.Duration
	Timeout      time.Duration
	Logger       *zap.Logger
}

const (
	timingTolerance     = 0.3
	serverErrorScore    = 0.75
	largeDeltaScore     = 0.7
	moderateDeltaScore  = 0.6
	largeDeltaRatio     = 0.5
	moderateDeltaRatio  = 0.2
	timingWindowScore   = 0.9
	timingTimeoutScore  = 0.95
	corroborationBoost  = 0.03
	unambiguousScore    = 0.95
	evidenceContextSize = 50
)

type baseline struct {
	resp     *transport.Response
	duration time.Duration
}

// Run executes the probe protocol for detector against target.
func Run(ctx context.Context, fetcher Fetcher, detector Detector, target string, opts Options) (recon.VulnResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PayloadLimit <= 0 {
		opts.PayloadLimit = constants.DefaultPayloadLimit
	}

	result := recon.VulnResult{
		Kind:       detector.Module(),
		URL:        target,
		Findings:   make([]recon.Finding, 0),
		Provenance: recon.Provenance{Trust: recon.TrustDirect},
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return result, fmt.Errorf("invalid target URL %q", target)
	}

	var base *baseline
	resp, err := fetcher.Execute(ctx, target, transport.RequestOptions{})
	switch {
	case transport.IsAborted(err):
		return result, err
	case err != nil:
		result.BaselineError = err.Error()
		logger.Debug("baseline request failed, differential signal disabled", zap.String("url", target), zap.Error(err))
	default:
		base = &baseline{resp: resp, duration: resp.Duration}
		result.BaselineStatus = resp.StatusCode
		result.Provenance = result.Provenance.Merge(resp.Meta.Provenance())
	}

	params := discoverParams(u, detector.Catalog().DefaultParams)
	for _, p := range params {
		result.Parameters = append(result.Parameters, p.Name)
	}

	payloads := detector.Catalog().Payloads
	if len(payloads) > opts.PayloadLimit {
		payloads = payloads[:opts.PayloadLimit]
	}

	findings := make(map[string]recon.Finding)
	order := make([]string, 0)
	first := true

	for _, param := range params {
		for _, payload := range payloads {
			if !first && opts.Pacing > 0 {
				if err := pause(ctx, opts.Pacing); err != nil {
					return result, err
				}
			}
			first = false

			testURL := withParam(u, param.Name, detector.Inject(param.Value, payload))
			reqOpts := transport.RequestOptions{}
			if payload.ExpectedDelay > 0 {
				reqOpts.NoRetry = true
				reqOpts.Timeout = payload.ExpectedDelay + opts.Timeout
			}

			sent := time.Now()
			resp, err := fetcher.Execute(ctx, testURL, reqOpts)
			if transport.IsAborted(err) {
				return result, err
			}

			var found []recon.Finding
			if err != nil {
				f, ok := timeoutFinding(payload, time.Since(sent), err)
				if !ok {
					logger.Debug("probe request failed",
						zap.String("url", testURL),
						zap.Bool("transport_failure", transport.IsTransportFailure(err)),
						zap.Error(err))
					continue
				}
				result.TestedPayloads++
				found = append(found, f)
			} else {
				result.TestedPayloads++
				found = classify(detector, payload, resp, base, resp.Duration)
				result.Provenance = result.Provenance.Merge(resp.Meta.Provenance())
			}

			for _, f := range found {
				f.URL = testURL
				f.Parameter = param.Name
				f.Payload = payload.Value
				if f.Severity == "" {
					f.Severity = payload.Severity
				}
				if resp != nil {
					f.Provenance = resp.Meta.Provenance()
				} else {
					f.Provenance = recon.Provenance{Trust: recon.TrustDirect}
				}
				if f.Confidence < constants.ConfidenceFloor || f.Confidence > 1 {
					continue
				}
				key := f.Key()
				prev, seen := findings[key]
				if !seen {
					order = append(order, key)
				}
				if !seen || f.Confidence > prev.Confidence {
					findings[key] = f
				}
			}
		}
	}

	for _, key := range order {
		result.Findings = append(result.Findings, findings[key])
	}
	sort.SliceStable(result.Findings, func(i, j int) bool {
		return result.Findings[i].Confidence > result.Findings[j].Confidence
	})
	result.Vulnerable = len(result.Findings) > 0
	return result, nil
}

func classify(d Detector, p recon.Payload, resp *transport.Response, base *baseline, elapsed time.Duration) []recon.Finding {
	var out []recon.Finding

	var baseResp *transport.Response
	if base != nil {
		baseResp = base.resp
	}
	sig, matched := d.Match(p, resp, baseResp)
	diffScore, diffServerError, diffIndicator := differential(resp, base)
	diffType := d.DifferentialType(diffServerError)
	if diffType == "" {
		diffScore = 0
	}

	if matched {
		conf := sig.Confidence
		if diffScore > 0 && conf < unambiguousScore {
			conf = math.Min(1, conf+corroborationBoost)
		}
		out = append(out, recon.Finding{
			Type:       sig.Type,
			Indicator:  sig.Indicator,
			Evidence:   sig.Evidence,
			StatusCode: resp.StatusCode,
			Confidence: round(conf),
		})
	}

	if p.ExpectedDelay > 0 {
		reference := time.Duration(0)
		if base != nil {
			reference = base.duration
		}
		delta := elapsed - reference
		low := time.Duration(float64(p.ExpectedDelay) * (1 - timingTolerance))
		high := time.Duration(float64(p.ExpectedDelay) * (1 + timingTolerance))
		if delta >= low && delta <= high {
			out = append(out, recon.Finding{
				Type:        p.Type,
				Indicator:   fmt.Sprintf("response delayed %s against expected %s", delta.Round(time.Millisecond), p.ExpectedDelay),
				TimingDelta: delta,
				StatusCode:  resp.StatusCode,
				Confidence:  timingWindowScore,
			})
		}
	}

	if !matched && len(out) == 0 && diffScore > 0 {
		out = append(out, recon.Finding{
			Type:       diffType,
			Indicator:  diffIndicator,
			StatusCode: resp.StatusCode,
			Confidence: diffScore,
		})
	}
	return out
}

func timeoutFinding(p recon.Payload, elapsed time.Duration, err error) (recon.Finding, bool) {
	if p.ExpectedDelay <= 0 || !transport.IsTimeout(err) {
		return recon.Finding{}, false
	}
	if elapsed < time.Duration(float64(p.ExpectedDelay)*(1-timingTolerance)) {
		return recon.Finding{}, false
	}
	return recon.Finding{
		Type:        p.Type,
		Indicator:   fmt.Sprintf("request timed out after %s with %s delay payload", elapsed.Round(time.Millisecond), p.ExpectedDelay),
		TimingDelta: elapsed,
		Confidence:  timingTimeoutScore,
	}, true
}

// differential compares a probe response with the baseline.
func differential(resp *transport.Response, base *baseline) (float64, bool, string) {
	if base == nil {
		return 0, false, ""
	}
	if resp.StatusCode >= 500 && base.resp.StatusCode < 500 {
		return serverErrorScore, true, fmt.Sprintf("status %d against baseline %d", resp.StatusCode, base.resp.StatusCode)
	}

	baseLen := base.resp.ContentLength()
	delta := math.Abs(float64(resp.ContentLength() - baseLen))
	ratio := delta / math.Max(float64(baseLen), 1)
	switch {
	case ratio > largeDeltaRatio:
		return largeDeltaScore, false, fmt.Sprintf("response size %d differs from baseline %d by %.0f%%", resp.ContentLength(), baseLen, ratio*100)
	case ratio > moderateDeltaRatio:
		return moderateDeltaScore, false, fmt.Sprintf("response size %d differs from baseline %d by %.0f%%", resp.ContentLength(), baseLen, ratio*100)
	}
	return 0, false, ""
}

// discoverParams returns the target's query parameters in order of appearance,
// or defaults when it has none.
func discoverParams(u *url.URL, defaults []Param) []Param {
	values := u.Query()
	seen := make(map[string]bool)
	var params []Param
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		name, _, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(name)
		if err != nil || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		params = append(params, Param{Name: name, Value: values.Get(name)})
	}
	if len(params) == 0 {
		params = append(params, defaults...)
	}
	return params
}

func withParam(u *url.URL, name, value string) string {
	out := *u
	q := out.Query()
	q.Set(name, value)
	out.RawQuery = q.Encode()
	return out.String()
}

// evidence returns up to evidenceContextSize bytes either side of body[start:end].
func evidence(body string, start, end int) string {
	from := start - evidenceContextSize
	if from < 0 {
		from = 0
	}
	to := end + evidenceContextSize
	if to > len(body) {
		to = len(body)
	}
	snippet := body[from:to]
	if len(snippet) > constants.RawCaptureLimitBytes {
		snippet = snippet[:constants.RawCaptureLimitBytes]
	}
	return strings.ToValidUTF8(snippet, "")
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", transport.ErrAborted, context.Cause(ctx))
	}
}
