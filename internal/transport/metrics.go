package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultRecordCapacity = 512

// CallRecord summarises one Execute call.
type CallRecord struct {
	URL       string        `json:"url"`
	Origin    string        `json:"origin"`
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	Status    int           `json:"status,omitempty"`
	Attempts  int           `json:"attempts"`
	UsedRelay bool          `json:"used_relay"`
	Aborted   bool          `json:"aborted,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// Outcome labels used on the request counter.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeAborted = "aborted"
)

// Metrics keeps recent call records in memory and feeds prometheus collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	retries  prometheus.Counter

	mu      sync.Mutex
	records []CallRecord
	next    int
	full    bool
}

// NewMetrics registers the executor collectors on reg. A nil reg keeps metrics local.
// Collectors already registered by another executor are shared.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seca_recon",
			Name:      "requests_total",
			Help:      "Outbound requests issued by the executor, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "seca_recon",
			Name:      "request_duration_seconds",
			Help:      "Wall time of executor calls including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seca_recon",
			Name:      "request_retries_total",
			Help:      "Retries performed after transport errors.",
		}),
		records: make([]CallRecord, defaultRecordCapacity),
	}
	if reg != nil {
		m.requests = register(reg, m.requests)
		m.duration = register(reg, m.duration)
		m.retries = register(reg, m.retries)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Observe stores rec and updates the collectors.
func (m *Metrics) Observe(rec CallRecord) {
	outcome := OutcomeSuccess
	switch {
	case rec.Aborted:
		outcome = OutcomeAborted
	case rec.Err != "":
		outcome = OutcomeFailure
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.duration.Observe(rec.Duration.Seconds())
	if rec.Attempts > 1 {
		m.retries.Add(float64(rec.Attempts - 1))
	}

	m.mu.Lock()
	m.records[m.next] = rec
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Records returns the retained call records, oldest first.
func (m *Metrics) Records() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		return append([]CallRecord(nil), m.records[:m.next]...)
	}
	out := make([]CallRecord, 0, len(m.records))
	out = append(out, m.records[m.next:]...)
	return append(out, m.records[:m.next]...)
}
