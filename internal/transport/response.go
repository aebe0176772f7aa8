package transport

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	URL        string
	Meta       AttemptMetadata
}

// ContentLength is the number of body bytes read.
func (r *Response) ContentLength() int {
	return len(r.Body)
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Cookies parses the Set-Cookie headers.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// AttemptMetadata describes how a response was obtained.
type AttemptMetadata struct {
	DirectAttempted  bool   `json:"direct_attempted"`
	DirectError      string `json:"direct_error,omitempty"`
	DirectStatus     int    `json:"direct_status,omitempty"`
	UsedRelay        bool   `json:"used_relay"`
	Relay            string `json:"relay,omitempty"`
	RelayIndex       int    `json:"relay_index,omitempty"`
	AttemptsViaRelay int    `json:"attempts_via_relay"`
	TotalAttempts    int    `json:"total_attempts"`
}

// Provenance converts the metadata for attachment to module results.
func (m AttemptMetadata) Provenance() recon.Provenance {
	p := recon.Provenance{Trust: recon.TrustDirect, Attempts: m.TotalAttempts}
	if m.UsedRelay {
		p.Trust = recon.TrustRelay
		p.Relay = m.Relay
		p.RelayIndex = m.RelayIndex
	}
	return p
}

// Origin returns scheme://host[:port] for rawURL, lowercased.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func acceptableStatus(code int) bool {
	return code >= 200 && code < 400
}
