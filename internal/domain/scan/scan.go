package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
)

// Scan is the aggregate root for one reconnaissance run against a target.
type Scan struct {
	id         string
	config     Config
	status     Status
	progress   Progress
	results    map[recon.Module]recon.Result
	completed  []recon.Module
	errors     []string
	createdAt  time.Time
	startedAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
	elapsed    time.Duration
	activeFrom time.Time
}

// Status represents the lifecycle state of a scan
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress tracks how far the module pipeline has advanced.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
}

// Percent returns the completion percentage.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// NewScan creates a running scan from a validated configuration.
func NewScan(cfg Config) (*Scan, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Scan{
		id:         generateScanID(),
		config:     cfg.clone(),
		status:     StatusRunning,
		progress:   Progress{Current: 0, Total: len(cfg.Modules), Stage: "queued"},
		results:    make(map[recon.Module]recon.Result),
		completed:  make([]recon.Module, 0, len(cfg.Modules)),
		errors:     make([]string, 0),
		createdAt:  now,
		startedAt:  now,
		updatedAt:  now,
		activeFrom: now,
	}, nil
}

// Snapshot carries persisted scan state into Reconstruct.
type Snapshot struct {
	ID         string
	Config     Config
	Status     Status
	Progress   Progress
	Results    map[recon.Module]recon.Result
	Completed  []recon.Module
	Errors     []string
	CreatedAt  time.Time
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration
}

// Reconstruct creates a scan from persisted data
func Reconstruct(s Snapshot) *Scan {
	results := s.Results
	if results == nil {
		results = make(map[recon.Module]recon.Result)
	}
	sc := &Scan{
		id:         s.ID,
		config:     s.Config,
		status:     s.Status,
		progress:   s.Progress,
		results:    results,
		completed:  s.Completed,
		errors:     s.Errors,
		createdAt:  s.CreatedAt,
		startedAt:  s.StartedAt,
		updatedAt:  s.UpdatedAt,
		finishedAt: s.FinishedAt,
		elapsed:    s.Elapsed,
	}
	if sc.status == StatusRunning {
		sc.activeFrom = s.UpdatedAt
	}
	return sc
}

// Business methods

// Pause suspends a running scan
func (s *Scan) Pause() error {
	if s.status != StatusRunning {
		return fmt.Errorf("%w: cannot pause a %s scan", sharedErrors.ErrInvalidTransition, s.status)
	}
	s.stopClock()
	s.status = StatusPaused
	s.touch()
	return nil
}

// Resume puts a paused scan back into running state
func (s *Scan) Resume() error {
	if s.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s scan", sharedErrors.ErrScanNotPaused, s.status)
	}
	s.status = StatusRunning
	s.activeFrom = time.Now()
	s.touch()
	return nil
}

// Complete marks the scan as completed
func (s *Scan) Complete() error {
	if s.status != StatusRunning {
		return fmt.Errorf("%w: cannot complete a %s scan", sharedErrors.ErrInvalidTransition, s.status)
	}
	s.stopClock()
	s.status = StatusCompleted
	s.progress = Progress{Current: s.progress.Total, Total: s.progress.Total, Stage: "completed"}
	s.finish()
	return nil
}

// Fail marks the scan as failed and records the reason
func (s *Scan) Fail(reason string) error {
	if s.status.Terminal() {
		return fmt.Errorf("%w: cannot fail a %s scan", sharedErrors.ErrScanFinished, s.status)
	}
	s.stopClock()
	s.status = StatusFailed
	if reason != "" {
		s.errors = append(s.errors, reason)
	}
	s.progress.Stage = "failed"
	s.finish()
	return nil
}

// Stop terminates the scan on user request; it cannot be resumed afterwards.
func (s *Scan) Stop() error {
	return s.Fail(sharedErrors.ErrScanStopped.Error())
}

// BeginModule records that the module at index is about to run.
func (s *Scan) BeginModule(index int, m recon.Module) error {
	if s.status != StatusRunning {
		return fmt.Errorf("%w: scan is %s", sharedErrors.ErrScanNotRunning, s.status)
	}
	if index < 0 || index >= s.progress.Total {
		return fmt.Errorf("%w: module index %d out of range", sharedErrors.ErrInvalidInput, index)
	}
	if index > s.progress.Current {
		s.progress.Current = index
	}
	s.progress.Stage = string(m)
	s.touch()
	return nil
}

// RecordResult stores a module's result and checkpoints the module as done.
func (s *Scan) RecordResult(result recon.Result) error {
	if s.status != StatusRunning {
		return fmt.Errorf("%w: scan is %s", sharedErrors.ErrScanNotRunning, s.status)
	}
	s.results[result.Module()] = result
	s.markCompleted(result.Module())
	return nil
}

// RecordModuleError appends a module failure and checkpoints the module as done.
func (s *Scan) RecordModuleError(m recon.Module, err error) error {
	if s.status != StatusRunning {
		return fmt.Errorf("%w: scan is %s", sharedErrors.ErrScanNotRunning, s.status)
	}
	var tagged *recon.ModuleError
	if !errors.As(err, &tagged) {
		tagged = &recon.ModuleError{Module: m, Err: err}
	}
	s.errors = append(s.errors, tagged.Error())
	s.markCompleted(m)
	return nil
}

// IsCompleted reports whether a module already finished in an earlier run.
func (s *Scan) IsCompleted(m recon.Module) bool {
	for _, done := range s.completed {
		if done == m {
			return true
		}
	}
	return false
}

// Clone returns an independent copy that is safe to hand to other goroutines.
func (s *Scan) Clone() *Scan {
	out := *s
	out.config = s.config.clone()
	out.results = make(map[recon.Module]recon.Result, len(s.results))
	for k, v := range s.results {
		out.results[k] = v
	}
	out.completed = append([]recon.Module(nil), s.completed...)
	out.errors = append([]string(nil), s.errors...)
	return &out
}

func (s *Scan) markCompleted(m recon.Module) {
	if !s.IsCompleted(m) {
		s.completed = append(s.completed, m)
	}
	if n := len(s.completed); n > s.progress.Current && n <= s.progress.Total {
		s.progress.Current = n
	}
	s.touch()
}

func (s *Scan) stopClock() {
	if !s.activeFrom.IsZero() {
		s.elapsed += time.Since(s.activeFrom)
		s.activeFrom = time.Time{}
	}
}

func (s *Scan) touch() {
	s.updatedAt = time.Now()
}

func (s *Scan) finish() {
	s.finishedAt = time.Now()
	s.updatedAt = s.finishedAt
}

// Getters

func (s *Scan) ID() string {
	return s.id
}

func (s *Scan) Target() string {
	return s.config.Target
}

func (s *Scan) Config() Config {
	return s.config.clone()
}

func (s *Scan) Status() Status {
	return s.status
}

func (s *Scan) Progress() Progress {
	return s.progress
}

func (s *Scan) Result(m recon.Module) (recon.Result, bool) {
	r, ok := s.results[m]
	return r, ok
}

func (s *Scan) Results() map[recon.Module]recon.Result {
	out := make(map[recon.Module]recon.Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

func (s *Scan) Completed() []recon.Module {
	return append([]recon.Module(nil), s.completed...)
}

func (s *Scan) Errors() []string {
	return append([]string(nil), s.errors...)
}

func (s *Scan) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Scan) StartedAt() time.Time {
	return s.startedAt
}

func (s *Scan) UpdatedAt() time.Time {
	return s.updatedAt
}

func (s *Scan) FinishedAt() time.Time {
	return s.finishedAt
}

// Duration is the time spent running, excluding paused intervals.
func (s *Scan) Duration() time.Duration {
	if !s.activeFrom.IsZero() {
		return s.elapsed + time.Since(s.activeFrom)
	}
	return s.elapsed
}

func generateScanID() string {
	return "scan-" + uuid.NewString()
}
