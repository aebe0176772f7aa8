package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/shared/constants"
)

// DefaultUserAgent is sent when the caller does not set one.
const DefaultUserAgent = "seca-recon/1.0 (+authorized security assessment)"

// relayPlaceholder marks where the escaped target URL goes in a relay template.
const relayPlaceholder = "{url}"

// ResolveOptions tunes a single resolution.
type ResolveOptions struct {
	Method     string
	Header     http.Header
	Timeout    time.Duration
	DirectOnly bool
}

// Resolver fetches a URL directly and falls back to an ordered list of relays.
// The relay that last succeeded is tried first on the next fallback.
type Resolver struct {
	client *http.Client
	relays []string
	logger *zap.Logger

	mu     sync.Mutex
	sticky int
}

// NewResolver builds a resolver. A nil client uses NewHTTPClient.
func NewResolver(client *http.Client, relays []string, logger *zap.Logger) *Resolver {
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaned := make([]string, 0, len(relays))
	for _, r := range relays {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &Resolver{client: client, relays: cleaned, logger: logger}
}

// NewHTTPClient returns the client used for direct and relayed requests.
// Timeouts come from request contexts, not the client.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// Relays returns the configured relay templates.
func (r *Resolver) Relays() []string {
	return append([]string(nil), r.relays...)
}

// Resolve fetches rawURL. The direct request is tried first; on a transport error or
// a status outside 200-399 each relay is tried once, starting from the sticky relay.
// A relay succeeds on any HTTP response. If every relay fails after the direct request
// produced a response, that direct response is returned.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, opts ResolveOptions) (*Response, AttemptMetadata, error) {
	var meta AttemptMetadata
	if err := ctx.Err(); err != nil {
		return nil, meta, abortError(ctx)
	}

	meta.DirectAttempted = true
	meta.TotalAttempts = 1
	direct, err := r.fetch(ctx, rawURL, opts)
	if err == nil && acceptableStatus(direct.StatusCode) {
		direct.Meta = meta
		return direct, meta, nil
	}
	if ctx.Err() != nil {
		return nil, meta, abortError(ctx)
	}

	failures := make([]Attempt, 0, len(r.relays)+1)
	if err != nil {
		meta.DirectError = err.Error()
		failures = append(failures, Attempt{Strategy: "direct", Err: err})
	} else {
		meta.DirectStatus = direct.StatusCode
		failures = append(failures, Attempt{Strategy: "direct", Err: fmt.Errorf("status %d", direct.StatusCode)})
	}

	if !opts.DirectOnly && len(r.relays) > 0 {
		start := r.stickyIndex()
		for i := range r.relays {
			if ctx.Err() != nil {
				return nil, meta, abortError(ctx)
			}
			idx := (start + i) % len(r.relays)
			template := r.relays[idx]
			meta.AttemptsViaRelay++
			meta.TotalAttempts++

			resp, relayErr := r.fetch(ctx, BuildRelayURL(template, rawURL), opts)
			if relayErr == nil {
				r.setSticky(idx)
				meta.UsedRelay = true
				meta.Relay = template
				meta.RelayIndex = idx + 1
				resp.Meta = meta
				r.logger.Debug("relay fallback succeeded",
					zap.String("url", rawURL),
					zap.Int("relay_index", idx+1),
					zap.Int("status", resp.StatusCode))
				return resp, meta, nil
			}
			if ctx.Err() != nil {
				return nil, meta, abortError(ctx)
			}
			failures = append(failures, Attempt{
				Strategy: fmt.Sprintf("relay[%d] %s", idx+1, template),
				Err:      relayErr,
			})
		}
	}

	if direct != nil {
		direct.Meta = meta
		return direct, meta, nil
	}
	return nil, meta, &ResolveError{URL: rawURL, Attempts: failures}
}

func (r *Resolver) fetch(ctx context.Context, target string, opts ResolveOptions) (*Response, error) {
	reqCtx, cancel := WithTimeoutCause(ctx, opts.Timeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, r.classify(ctx, reqCtx, opts.Timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodyBytes))
	if err != nil {
		return nil, r.classify(ctx, reqCtx, opts.Timeout, fmt.Errorf("read body: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
		URL:        target,
	}, nil
}

// classify turns a local deadline into a timeout error so it is not mistaken for abort.
func (r *Resolver) classify(parent, reqCtx context.Context, timeout time.Duration, err error) error {
	if parent.Err() == nil && errors.Is(context.Cause(reqCtx), context.DeadlineExceeded) {
		return fmt.Errorf("timeout after %s: %w", timeout, context.DeadlineExceeded)
	}
	return err
}

func (r *Resolver) stickyIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sticky
}

func (r *Resolver) setSticky(idx int) {
	r.mu.Lock()
	r.sticky = idx
	r.mu.Unlock()
}

// BuildRelayURL substitutes the escaped target into a relay template. Templates without
// a {url} placeholder are treated as a prefix.
func BuildRelayURL(template, target string) string {
	escaped := url.QueryEscape(target)
	if strings.Contains(template, relayPlaceholder) {
		return strings.ReplaceAll(template, relayPlaceholder, escaped)
	}
	return template + escaped
}
