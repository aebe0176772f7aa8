package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	u := srv.URL
	srv.Close()
	return u
}

func countingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolveDirectSuccess(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, "hello")
	relay, relayHits := countingServer(t, http.StatusOK, "relay")

	r := NewResolver(nil, []string{relay.URL + "/?u={url}"}, zaptest.NewLogger(t))
	resp, meta, err := r.Resolve(context.Background(), srv.URL, ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text())
	assert.False(t, meta.UsedRelay)
	assert.Equal(t, 1, meta.TotalAttempts)
	assert.Equal(t, int32(0), relayHits.Load())
}

func TestResolveFallsBackAndSticks(t *testing.T) {
	target := deadURL(t)
	badRelay := deadURL(t) + "/?u={url}"

	var gotTarget atomic.Value
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget.Store(r.URL.Query().Get("u"))
		_, _ = w.Write([]byte("via relay"))
	}))
	defer good.Close()

	r := NewResolver(nil, []string{badRelay, good.URL + "/?u={url}"}, zaptest.NewLogger(t))

	resp, meta, err := r.Resolve(context.Background(), target, ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "via relay", resp.Text())
	assert.True(t, meta.UsedRelay)
	assert.Equal(t, 2, meta.RelayIndex)
	assert.Equal(t, 2, meta.AttemptsViaRelay)
	assert.Equal(t, target, gotTarget.Load())
	assert.Equal(t, "relay", string(meta.Provenance().Trust))

	_, meta, err = r.Resolve(context.Background(), target, ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.RelayIndex)
	assert.Equal(t, 1, meta.AttemptsViaRelay, "sticky relay should be tried first")
}

func TestResolveAllStrategiesFail(t *testing.T) {
	target := deadURL(t)
	relays := []string{deadURL(t) + "/?u={url}", deadURL(t) + "/raw?url="}

	r := NewResolver(nil, relays, zaptest.NewLogger(t))
	resp, _, err := r.Resolve(context.Background(), target, ResolveOptions{Timeout: time.Second})
	require.Error(t, err)
	assert.Nil(t, resp)

	var resErr *ResolveError
	require.True(t, errors.As(err, &resErr))
	require.Len(t, resErr.Attempts, 3)
	assert.Equal(t, "direct", resErr.Attempts[0].Strategy)
	assert.Contains(t, err.Error(), "relay[1]")
	assert.Contains(t, err.Error(), "relay[2]")
}

func TestResolveKeepsDirectStatusWhenRelaysFail(t *testing.T) {
	srv, _ := countingServer(t, http.StatusServiceUnavailable, "down")
	r := NewResolver(nil, []string{deadURL(t) + "/?u={url}"}, zaptest.NewLogger(t))

	resp, meta, err := r.Resolve(context.Background(), srv.URL, ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, meta.UsedRelay)
	assert.Equal(t, 1, meta.AttemptsViaRelay)
	assert.Equal(t, http.StatusServiceUnavailable, meta.DirectStatus)
}

func TestResolveBlockedDirectUsesRelay(t *testing.T) {
	srv, _ := countingServer(t, http.StatusForbidden, "blocked")
	relay, _ := countingServer(t, http.StatusOK, "page")

	r := NewResolver(nil, []string{relay.URL + "/fetch?target="}, zaptest.NewLogger(t))
	resp, meta, err := r.Resolve(context.Background(), srv.URL, ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "page", resp.Text())
	assert.True(t, meta.UsedRelay)
	assert.Equal(t, 1, meta.RelayIndex)
}

func TestResolveAbortsOnCancelledContext(t *testing.T) {
	r := NewResolver(nil, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancelCause(context.Background())
	pause := errors.New("paused")
	cancel(pause)

	_, _, err := r.Resolve(ctx, "http://127.0.0.1:1", ResolveOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, pause)
}

func TestResolveTimeoutIsNotAbort(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	r := NewResolver(nil, nil, zaptest.NewLogger(t))
	_, _, err := r.Resolve(context.Background(), slow.URL, ResolveOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.False(t, IsAborted(err))

	var resErr *ResolveError
	require.True(t, errors.As(err, &resErr))
	assert.ErrorContains(t, resErr.Attempts[0].Err, "timeout")
	assert.True(t, IsTimeout(err))
}

func TestExecutorTimeoutSurvivesWrapping(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	relay := broken.URL + "/?u="
	broken.Close()

	exec := NewExecutor(NewResolver(nil, []string{relay}, zaptest.NewLogger(t)),
		ExecutorConfig{Threads: 10, Timeout: 50 * time.Millisecond}, nil, zaptest.NewLogger(t))
	_, err := exec.Execute(context.Background(), slow.URL, RequestOptions{NoRetry: true})
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	var resErr *ResolveError
	require.True(t, errors.As(err, &resErr))
	assert.Len(t, resErr.Attempts, 2)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsTransportFailure(err))
	assert.False(t, IsAborted(err))
}

func TestIsTimeoutIgnoresOtherFailures(t *testing.T) {
	err := &RequestError{URL: "http://a.example", Attempts: 1, Err: &ResolveError{
		URL:      "http://a.example",
		Attempts: []Attempt{{Strategy: "direct", Err: errors.New("connection refused")}},
	}}
	assert.False(t, IsTimeout(err))
	assert.True(t, IsTransportFailure(err))
	assert.Contains(t, err.Error(), "direct: connection refused")
}

func TestResolverAndExecutorNormalizeSettings(t *testing.T) {
	r := NewResolver(nil, []string{" https://relay.example/?u= ", "", "  "}, nil)
	assert.Equal(t, []string{"https://relay.example/?u="}, r.Relays())

	relays := r.Relays()
	relays[0] = "mutated"
	assert.Equal(t, "https://relay.example/?u=", r.Relays()[0])

	exec := NewExecutor(r, ExecutorConfig{Threads: 0, Retries: -2, Timeout: time.Second}, nil, nil)
	cfg := exec.Config()
	assert.Equal(t, 1, cfg.Threads)
	assert.Equal(t, 0, cfg.Retries)
	assert.Equal(t, time.Second, cfg.Timeout)
}

func TestBuildRelayURL(t *testing.T) {
	assert.Equal(t,
		"https://relay.example/get?url=https%3A%2F%2Fa.example%2F%3Fq%3D1",
		BuildRelayURL("https://relay.example/get?url=", "https://a.example/?q=1"))
	assert.Equal(t,
		"https://relay.example/https%3A%2F%2Fa.example%2F/raw",
		BuildRelayURL("https://relay.example/{url}/raw", "https://a.example/"))
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "https://example.com", Origin("https://Example.com/path?q=1"))
	assert.Equal(t, "http://example.com:8080", Origin("http://example.com:8080/"))
}

func newTestExecutor(t *testing.T, cfg ExecutorConfig, reg prometheus.Registerer) *Executor {
	t.Helper()
	return NewExecutor(NewResolver(nil, nil, zaptest.NewLogger(t)), cfg, NewMetrics(reg), zaptest.NewLogger(t))
}

func TestExecutorRetriesTransportErrors(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{Threads: 100, Timeout: time.Second, Retries: 2, RetryDelay: 10 * time.Millisecond}, nil)

	var delays []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := e.Execute(context.Background(), deadURL(t), RequestOptions{})
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 3, reqErr.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
	assert.True(t, IsTransportFailure(err))
}

func TestExecutorDoesNotRetryHTTPStatus(t *testing.T) {
	srv, hits := countingServer(t, http.StatusInternalServerError, "oops")
	e := newTestExecutor(t, ExecutorConfig{Threads: 100, Timeout: time.Second, Retries: 3, RetryDelay: time.Millisecond}, nil)

	resp, err := e.Execute(context.Background(), srv.URL, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecutorCancellationDuringRetryDelay(t *testing.T) {
	e := newTestExecutor(t, ExecutorConfig{Threads: 100, Timeout: time.Second, Retries: 5, RetryDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	stop := errors.New("stopped by user")
	sleeps := 0
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		cancel(stop)
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := e.Execute(ctx, deadURL(t), RequestOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, sleeps)

	records := e.Metrics().Records()
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Attempts)
	assert.True(t, records[0].Aborted)
}

func TestExecutorSpacesRequestsPerOrigin(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
	}))
	defer srv.Close()

	e := newTestExecutor(t, ExecutorConfig{Threads: 20, Timeout: time.Second}, nil)
	interval := e.limiter.Interval()
	require.Equal(t, 50*time.Millisecond, interval)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Execute(context.Background(), srv.URL+"/x", RequestOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 4)
	total := stamps[len(stamps)-1].Sub(stamps[0])
	assert.GreaterOrEqual(t, total, 3*interval-10*time.Millisecond)
}

func TestExecutorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, _ := countingServer(t, http.StatusOK, "ok")

	e := newTestExecutor(t, ExecutorConfig{Threads: 100, Timeout: time.Second}, reg)
	second := newTestExecutor(t, ExecutorConfig{Threads: 100, Timeout: time.Second}, reg)

	_, err := e.Execute(context.Background(), srv.URL, RequestOptions{})
	require.NoError(t, err)
	_, err = second.Execute(context.Background(), srv.URL, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.requests.WithLabelValues(OutcomeSuccess)))
	assert.Len(t, e.Metrics().Records(), 1)
}

func TestFirstOfPreservesFirstCause(t *testing.T) {
	parent, cancelParent := context.WithCancelCause(context.Background())
	other, cancelOther := context.WithCancelCause(context.Background())
	defer cancelParent(nil)

	merged, cancel := FirstOf(parent, other)
	defer cancel()

	first := errors.New("first")
	cancelOther(first)
	<-merged.Done()
	cancelParent(errors.New("second"))

	assert.ErrorIs(t, context.Cause(merged), first)
}

func TestWithTimeoutCause(t *testing.T) {
	ctx, cancel := WithTimeoutCause(context.Background(), 10*time.Millisecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.DeadlineExceeded)
}

func TestMetricsRecordsRing(t *testing.T) {
	m := NewMetrics(nil)
	for i := 0; i < defaultRecordCapacity+3; i++ {
		m.Observe(CallRecord{Status: i})
	}
	recs := m.Records()
	require.Len(t, recs, defaultRecordCapacity)
	assert.Equal(t, 3, recs[0].Status)
	assert.Equal(t, defaultRecordCapacity+2, recs[len(recs)-1].Status)
}
