package recon

import "time"

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Trust records whether data reached us directly or through a third-party relay.
type Trust string

const (
	TrustDirect Trust = "direct"
	TrustRelay  Trust = "relay"
)

// Provenance describes how the network data behind a result was obtained.
// Relay-derived data passed through an intermediary that could have altered it.
type Provenance struct {
	Trust      Trust  `json:"trust"`
	Relay      string `json:"relay,omitempty"`
	RelayIndex int    `json:"relay_index,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

// Merge folds other into p; any relay involvement downgrades the combined trust.
func (p Provenance) Merge(other Provenance) Provenance {
	out := p
	if out.Trust == "" {
		out.Trust = other.Trust
	}
	if other.Trust == TrustRelay {
		out.Trust = TrustRelay
		if out.Relay == "" {
			out.Relay = other.Relay
			out.RelayIndex = other.RelayIndex
		}
	}
	out.Attempts += other.Attempts
	return out
}

// Payload is one injection string from a probe catalog.
type Payload struct {
	Value         string        `json:"value" yaml:"value"`
	Type          string        `json:"type" yaml:"type"`
	Severity      Severity      `json:"severity" yaml:"severity"`
	// Confidence rates the payload in the catalog. Findings are scored by the
	// signal that matched, never by this value.
	Confidence    float64       `json:"confidence" yaml:"confidence"`
	ExpectedDelay time.Duration `json:"expected_delay,omitempty" yaml:"expected_delay"`
}

// Finding is a single confirmed indication of a vulnerability.
type Finding struct {
	URL         string        `json:"url"`
	Parameter   string        `json:"parameter"`
	Payload     string        `json:"payload"`
	Type        string        `json:"type"`
	Indicator   string        `json:"indicator"`
	Evidence    string        `json:"evidence,omitempty"`
	TimingDelta time.Duration `json:"timing_delta,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	Severity    Severity      `json:"severity"`
	Confidence  float64       `json:"confidence"`
	Provenance  Provenance    `json:"provenance"`
}

// Key identifies a finding for deduplication.
func (f Finding) Key() string {
	return f.Parameter + "\x00" + f.Payload + "\x00" + f.Type
}
