package scan

import (
	"context"
	"sync"

	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
)

// session is the in-memory handle of one scan owned by the orchestrator.
// scan is only read or mutated with mu held.
type session struct {
	mu     sync.Mutex
	scan   *scan.Scan
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func newSession(s *scan.Scan) *session {
	done := make(chan struct{})
	close(done)
	return &session{scan: s, done: done, cancel: func(error) {}}
}

// snapshot returns an independent copy of the scan.
func (s *session) snapshot() *scan.Scan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan.Clone()
}

// finished returns the channel closed when the current pipeline goroutine exits.
func (s *session) finished() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
