package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []string
	handler func(ctx context.Context, u *url.URL, opts transport.RequestOptions) (*transport.Response, error)
}

func (f *fakeFetcher) Execute(ctx context.Context, rawURL string, opts transport.RequestOptions) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrAborted, context.Cause(ctx))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return f.handler(ctx, u, opts)
}

func page(status int, body string) *transport.Response {
	return &transport.Response{StatusCode: status, Body: []byte(body)}
}

func mustSQLi(t *testing.T) *SQLiDetector {
	t.Helper()
	d, err := NewSQLiDetector(nil)
	require.NoError(t, err)
	return d
}

func assertFloor(t *testing.T, res recon.VulnResult) {
	t.Helper()
	for _, f := range res.Findings {
		assert.GreaterOrEqual(t, f.Confidence, 0.7, f)
		assert.LessOrEqual(t, f.Confidence, 1.0, f)
	}
}

func TestEmbeddedCatalogsLoad(t *testing.T) {
	for _, m := range []recon.Module{recon.ModuleSQLi, recon.ModuleXSS, recon.ModuleLFI} {
		c, err := LoadCatalog(m)
		require.NoError(t, err, m)
		assert.NotEmpty(t, c.Payloads, m)
		assert.NotEmpty(t, c.DefaultParams, m)

		again, err := LoadCatalog(m)
		require.NoError(t, err)
		assert.Same(t, c, again, "catalog should be loaded once")
	}

	sqli, err := LoadCatalog(recon.ModuleSQLi)
	require.NoError(t, err)
	var timed int
	for _, p := range sqli.Payloads {
		if p.ExpectedDelay > 0 {
			timed++
			assert.Equal(t, 5*time.Second, p.ExpectedDelay)
		}
	}
	assert.Greater(t, timed, 0)

	_, err = LoadCatalog(recon.ModuleDNS)
	assert.Error(t, err)
}

func TestParseCatalogRejectsBadData(t *testing.T) {
	_, err := ParseCatalog([]byte("payloads: []"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("payloads:\n  - value: x\n    confidence: 1.5\n"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("payloads:\n  - value: x\nsignatures:\n  - name: bad\n    patterns: ['(']\n"))
	assert.Error(t, err)
}

func TestSQLiErrorBasedWithDefaultParameter(t *testing.T) {
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if strings.Contains(u.Query().Get("id"), "'") {
			return page(200, "<b>Warning</b>: You have an error in your SQL syntax; check the manual near ''1''"), nil
		}
		return page(200, "<html>product 1</html>"), nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item", Options{PayloadLimit: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"id"}, res.Parameters)
	assert.Equal(t, 3, res.TestedPayloads)
	assert.True(t, res.Vulnerable)
	require.NotEmpty(t, res.Findings)
	top := res.Findings[0]
	assert.Equal(t, "error-based", top.Type)
	assert.Equal(t, "id", top.Parameter)
	assert.GreaterOrEqual(t, top.Confidence, 0.95)
	assert.Contains(t, top.Evidence, "SQL syntax")
	assert.Equal(t, recon.TrustDirect, top.Provenance.Trust)
	assertFloor(t, res)
}

func TestSQLiServerErrorDifferential(t *testing.T) {
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if u.Query().Get("id") == "1" {
			return page(200, "<html>item one</html>"), nil
		}
		return page(500, "<html>item one</html>"), nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 1})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "error-based", res.Findings[0].Type)
	assert.Equal(t, 0.75, res.Findings[0].Confidence)
	assert.Equal(t, 500, res.Findings[0].StatusCode)
}

func TestModerateSizeDeltaIsBelowFloor(t *testing.T) {
	base := strings.Repeat("a", 100)
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if u.Query().Get("id") == "1" {
			return page(200, base), nil
		}
		return page(200, strings.Repeat("a", 130)), nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 4})
	require.NoError(t, err)
	assert.False(t, res.Vulnerable)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 4, res.TestedPayloads)
}

func TestLargeSizeDeltaReported(t *testing.T) {
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if u.Query().Get("id") == "1" {
			return page(200, strings.Repeat("a", 100)), nil
		}
		return page(200, strings.Repeat("a", 400)), nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 1})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "boolean-based", res.Findings[0].Type)
	assert.Equal(t, 0.7, res.Findings[0].Confidence)
}

func TestSignatureCorroboratedByDifferential(t *testing.T) {
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if u.Query().Get("id") == "1" {
			return page(200, "ok"), nil
		}
		return page(500, "java.sql.SQLException: Incorrect syntax"), nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 1})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 0.88, res.Findings[0].Confidence)
}

func timedCatalog(t *testing.T, delay time.Duration) *Catalog {
	t.Helper()
	c, err := ParseCatalog([]byte(fmt.Sprintf(`
default_params:
  - name: id
    value: "1"
payloads:
  - value: "' AND SLEEP(1)-- -"
    type: time-based
    severity: critical
    confidence: 0.9
    expected_delay: %s
`, delay)))
	require.NoError(t, err)
	return c
}

func TestSQLiTimeBasedWithinTolerance(t *testing.T) {
	delay := 200 * time.Millisecond
	d, err := NewSQLiDetector(timedCatalog(t, delay))
	require.NoError(t, err)

	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, opts transport.RequestOptions) (*transport.Response, error) {
		resp := page(200, "same")
		if strings.Contains(u.Query().Get("id"), "SLEEP") {
			assert.True(t, opts.NoRetry)
			resp.Duration = delay
		}
		return resp, nil
	}}

	res, err := Run(context.Background(), f, d, "https://shop.example/item?id=1", Options{Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "time-based", res.Findings[0].Type)
	assert.Equal(t, 0.9, res.Findings[0].Confidence)
	assert.GreaterOrEqual(t, res.Findings[0].TimingDelta, 140*time.Millisecond)
}

func TestSQLiTimingIgnoresTimeOutsideTheResponse(t *testing.T) {
	delay := 200 * time.Millisecond
	d, err := NewSQLiDetector(timedCatalog(t, delay))
	require.NoError(t, err)

	// Waiting before the request is sent, as the rate limiter does, is not server delay.
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		resp := page(200, "same")
		resp.Duration = 5 * time.Millisecond
		if strings.Contains(u.Query().Get("id"), "SLEEP") {
			time.Sleep(delay)
		}
		return resp, nil
	}}

	res, err := Run(context.Background(), f, d, "https://shop.example/item?id=1", Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TestedPayloads)
	assert.Empty(t, res.Findings)
}

func TestSQLiTimeBasedTimeout(t *testing.T) {
	delay := 100 * time.Millisecond
	d, err := NewSQLiDetector(timedCatalog(t, delay))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("id"), "SLEEP") {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write([]byte("same"))
	}))
	defer srv.Close()

	exec := transport.NewExecutor(
		transport.NewResolver(srv.Client(), nil, zaptest.NewLogger(t)),
		transport.ExecutorConfig{Threads: 10, Timeout: time.Second},
		nil, zaptest.NewLogger(t))

	res, err := Run(context.Background(), exec, d, srv.URL+"/item?id=1", Options{Timeout: delay})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TestedPayloads)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "time-based", res.Findings[0].Type)
	assert.Equal(t, 0.95, res.Findings[0].Confidence)
	assert.GreaterOrEqual(t, res.Findings[0].TimingDelta, 2*delay)
	assert.Equal(t, recon.TrustDirect, res.Findings[0].Provenance.Trust)
}

func TestBaselineFailureIsNotFatal(t *testing.T) {
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if u.Query().Get("id") == "1" {
			return nil, &transport.RequestError{URL: u.String(), Attempts: 3, Err: errors.New("connection reset")}
		}
		return page(500, "boom"), nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 2})
	require.NoError(t, err)
	assert.Contains(t, res.BaselineError, "connection reset")
	assert.Equal(t, 2, res.TestedPayloads)
	assert.False(t, res.Vulnerable, "differential signal needs a baseline")
}

func TestRunAbortsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	paused := errors.New("scan paused")

	calls := 0
	f := &fakeFetcher{handler: func(_ context.Context, _ *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		calls++
		if calls == 2 {
			cancel(paused)
		}
		return page(200, "ok"), nil
	}}

	_, err := Run(ctx, f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 10, Pacing: 5 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrAborted)
	assert.ErrorIs(t, err, paused)
	assert.Equal(t, 2, calls)
}

func TestFindingsAreDeduplicated(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
payloads:
  - value: "'"
    type: error-based
    confidence: 0.95
  - value: "'"
    type: error-based
    confidence: 0.95
signatures:
  - name: mysql
    confidence: 0.95
    patterns: ['(?i)SQL syntax.*MySQL']
`))
	require.NoError(t, err)
	d, err := NewSQLiDetector(catalog)
	require.NoError(t, err)

	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if strings.Contains(u.Query().Get("id"), "'") {
			return page(200, "SQL syntax error for MySQL server"), nil
		}
		return page(200, "fine"), nil
	}}

	res, err := Run(context.Background(), f, d, "https://shop.example/item?id=1&id=2", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, res.Parameters)
	assert.Equal(t, 2, res.TestedPayloads)
	assert.Len(t, res.Findings, 1)
}

func TestRelayProvenanceAttachedWithoutPenalty(t *testing.T) {
	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		resp := page(200, strings.Repeat("x", 48))
		if strings.Contains(u.Query().Get("id"), "'") {
			resp = page(200, "ORA-01756: quoted string not properly terminated")
		}
		resp.Meta = transport.AttemptMetadata{DirectAttempted: true, UsedRelay: true, Relay: "https://relay.example/?u={url}", RelayIndex: 1, TotalAttempts: 2}
		return resp, nil
	}}

	res, err := Run(context.Background(), f, mustSQLi(t), "https://shop.example/item?id=1", Options{PayloadLimit: 1})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, recon.TrustRelay, res.Findings[0].Provenance.Trust)
	assert.Equal(t, 0.95, res.Findings[0].Confidence)
	assert.Equal(t, recon.TrustRelay, res.Provenance.Trust)
}

func TestLFIPasswdDetection(t *testing.T) {
	d, err := NewLFIDetector(nil)
	require.NoError(t, err)

	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		if strings.Contains(u.Query().Get("file"), "passwd") {
			return page(500, "root:x:0:0:root:/root:/bin/bash\ndaemon:x:1:1::/usr/sbin:/usr/sbin/nologin\n"), nil
		}
		return page(404, "not found"), nil
	}}

	res, err := Run(context.Background(), f, d, "https://files.example/view", Options{PayloadLimit: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"file", "page", "include", "path"}, res.Parameters)
	assert.Equal(t, 8, res.TestedPayloads)
	require.NotEmpty(t, res.Findings)
	assert.Equal(t, 0.99, res.Findings[0].Confidence)
	assert.Equal(t, "file", res.Findings[0].Parameter)
	for _, call := range f.calls[1:] {
		u, _ := url.Parse(call)
		for _, name := range []string{"file", "page", "include", "path"} {
			if v := u.Query().Get(name); v != "" {
				assert.Contains(t, v, "..", "default parameters carry the bare path")
			}
		}
	}
}

func TestLFIAppendsToExistingValue(t *testing.T) {
	d, err := NewLFIDetector(nil)
	require.NoError(t, err)

	f := &fakeFetcher{handler: func(_ context.Context, _ *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		return page(200, "home"), nil
	}}

	res, err := Run(context.Background(), f, d, "https://files.example/view?file=index.php", Options{PayloadLimit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"file"}, res.Parameters)
	require.Len(t, f.calls, 4)

	payloads := d.Catalog().Payloads
	for i, call := range f.calls[1:] {
		u, err := url.Parse(call)
		require.NoError(t, err)
		assert.Equal(t, "index.php"+payloads[i].Value, u.Query().Get("file"))
	}
}

func TestLFIWinIni(t *testing.T) {
	d, err := NewLFIDetector(nil)
	require.NoError(t, err)
	sig, ok := d.Match(recon.Payload{Value: `C:\Windows\win.ini`, Type: "absolute-path"}, page(200, "; for 16-bit app support\n[fonts]\n[extensions]\n"), page(200, "home"))
	require.True(t, ok)
	assert.Equal(t, 0.95, sig.Confidence)

	_, ok = d.Match(recon.Payload{Value: "/etc/passwd"}, page(200, "root:x:0:0:root"), page(200, "root:x:0:0:root"))
	assert.False(t, ok, "markers present in the baseline are ignored")
}

func TestXSSReflectionContexts(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		payload string
		want    string
		ok      bool
	}{
		{"script block", `<script>var q = 'test';alert(1337);//';</script>`, "';alert(1337);//", ContextScript, true},
		{"attribute breakout", `<input value="test"><svg onload=alert(1337)>">`, `"><svg onload=alert(1337)>`, ContextEvent, true},
		{"html body", `<p>Results for <script>alert(1337)</script></p>`, "<script>alert(1337)</script>", ContextHTML, true},
		{"text after value", `<p>You searched test"><svg onload=alert(1337)></p>`, `"><svg onload=alert(1337)>`, ContextHTML, true},
		{"textarea", `<textarea><script>alert(1337)</script></textarea>`, "<script>alert(1337)</script>", "", false},
		{"comment", `<!-- <script>alert(1337)</script> -->`, "<script>alert(1337)</script>", "", false},
		{"javascript href", `<a href="javascript:alert(1337)">x</a>`, "javascript:alert(1337)", ContextAttribute, true},
		{"javascript text", `<p>javascript:alert(1337)</p>`, "javascript:alert(1337)", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := strings.Index(tt.body, tt.payload)
			require.GreaterOrEqual(t, idx, 0)
			got, ok := ReflectionContext(tt.body, idx, tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestXSSRunEncodedReflectionIgnored(t *testing.T) {
	d, err := NewXSSDetector(nil)
	require.NoError(t, err)

	f := &fakeFetcher{handler: func(_ context.Context, u *url.URL, _ transport.RequestOptions) (*transport.Response, error) {
		q := u.Query().Get("q")
		if strings.Contains(q, "<script>") {
			return page(200, "<p>Results for "+q+"</p>"), nil
		}
		return page(200, "<p>Results for "+strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(q)+"</p>"), nil
	}}

	res, err := Run(context.Background(), f, d, "https://search.example/", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, res.Parameters)
	require.NotEmpty(t, res.Findings)
	for _, fnd := range res.Findings {
		assert.Contains(t, fnd.Payload, "<script>")
		assert.Equal(t, 0.85, fnd.Confidence)
	}
	assertFloor(t, res)
}

func TestRunRejectsInvalidTarget(t *testing.T) {
	_, err := Run(context.Background(), &fakeFetcher{}, mustSQLi(t), "not a url", Options{})
	assert.Error(t, err)
}
