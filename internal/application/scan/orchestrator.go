package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	"github.com/khanhnv2901/seca-recon/internal/modules"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

var errOrchestratorClosed = errors.New("orchestrator shut down")

// ModuleFactory builds the module for one pipeline step.
type ModuleFactory func(kind recon.Module, env modules.Env) (modules.Module, error)

// Options configures an Orchestrator. Zero values select production defaults.
type Options struct {
	Logger     *zap.Logger
	Registry   prometheus.Registerer
	HTTPClient *http.Client
	Whois      modules.WhoisClient
	Dialer     modules.Dialer
	CRTShURL   string
	NewModule  ModuleFactory
}

// Orchestrator owns the scan sessions of this process and drives their module pipelines
type Orchestrator struct {
	repo     scan.Repository
	notifier *Notifier
	metrics  *transport.Metrics
	finished *prometheus.CounterVec
	opts     Options
	logger   *zap.Logger

	lifetime context.Context
	shutdown context.CancelCauseFunc

	mu       sync.Mutex
	sessions map[string]*session
}

// NewOrchestrator creates a new scan orchestrator
func NewOrchestrator(repo scan.Repository, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewModule == nil {
		opts.NewModule = modules.New
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = transport.NewHTTPClient()
	}
	lifetime, shutdown := context.WithCancelCause(context.Background())
	return &Orchestrator{
		repo:     repo,
		notifier: NewNotifier(),
		metrics:  transport.NewMetrics(opts.Registry),
		finished: newFinishedCounter(opts.Registry),
		opts:     opts,
		logger:   opts.Logger,
		lifetime: lifetime,
		shutdown: shutdown,
		sessions: make(map[string]*session),
	}
}

func newFinishedCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seca_recon_scans_finished_total",
		Help: "Scans that reached a terminal status.",
	}, []string{"status"})
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

// Metrics exposes the shared executor metrics.
func (o *Orchestrator) Metrics() *transport.Metrics {
	return o.metrics
}

// Start creates and persists a running scan, launches its pipeline and returns its ID
// without waiting for any module.
func (o *Orchestrator) Start(ctx context.Context, cfg scan.Config) (string, error) {
	s, err := scan.NewScan(cfg)
	if err != nil {
		return "", err
	}
	if _, err := modules.ParseTarget(s.Target()); err != nil {
		return "", fmt.Errorf("%w: %v", sharedErrors.ErrInvalidInput, err)
	}
	if err := o.lifetime.Err(); err != nil {
		return "", errOrchestratorClosed
	}

	if err := o.repo.Save(ctx, s); err != nil {
		return "", fmt.Errorf("failed to save scan: %w", err)
	}

	sess := newSession(s)
	o.mu.Lock()
	o.sessions[s.ID()] = sess
	o.mu.Unlock()

	// subscribers see the queued state before any module update
	sess.mu.Lock()
	o.notifier.Broadcast(sess.scan.Clone())
	o.launch(sess)
	sess.mu.Unlock()

	o.logger.Info("scan started",
		zap.String("scan_id", s.ID()),
		zap.String("target", s.Target()),
		zap.Int("modules", len(s.Config().Modules)))
	return s.ID(), nil
}

// Pause interrupts a running scan. Completed module results are kept and the
// interrupted module runs again on resume.
func (o *Orchestrator) Pause(ctx context.Context, id string) (*scan.Scan, error) {
	sess, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if err := sess.scan.Pause(); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	saveErr := o.repo.Save(ctx, sess.scan)
	cancel := sess.cancel
	snap := sess.scan.Clone()
	sess.mu.Unlock()

	cancel(sharedErrors.ErrScanPaused)
	o.notifier.Broadcast(snap)
	if saveErr != nil {
		return snap, fmt.Errorf("failed to save scan: %w", saveErr)
	}
	o.logger.Info("scan paused", zap.String("scan_id", id), zap.String("stage", snap.Progress().Stage))
	return snap, nil
}

// Resume restarts the pipeline of a paused scan with its original configuration,
// skipping modules that already completed.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*scan.Scan, error) {
	sess, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if status := sess.scan.Status(); status != scan.StatusPaused {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: scan is %s", sharedErrors.ErrScanNotPaused, status)
	}
	previous := sess.done
	sess.mu.Unlock()

	select {
	case <-previous:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := o.lifetime.Err(); err != nil {
		return nil, errOrchestratorClosed
	}

	sess.mu.Lock()
	if err := sess.scan.Resume(); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	if err := o.repo.Save(ctx, sess.scan); err != nil {
		_ = sess.scan.Pause()
		sess.mu.Unlock()
		return nil, fmt.Errorf("failed to save scan: %w", err)
	}
	snap := sess.scan.Clone()
	o.notifier.Broadcast(snap)
	o.launch(sess)
	sess.mu.Unlock()

	o.logger.Info("scan resumed",
		zap.String("scan_id", id),
		zap.Int("completed_modules", len(snap.Completed())))
	return snap, nil
}

// Stop terminates a running or paused scan. The scan is marked failed with
// "stopped by user" and can no longer be resumed.
func (o *Orchestrator) Stop(ctx context.Context, id string) (*scan.Scan, error) {
	sess, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if err := sess.scan.Stop(); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	saveErr := o.repo.Save(ctx, sess.scan)
	cancel := sess.cancel
	done := sess.done
	snap := sess.scan.Clone()
	sess.mu.Unlock()

	cancel(sharedErrors.ErrScanStopped)
	o.notifier.Broadcast(snap)

	select {
	case <-done:
	case <-ctx.Done():
	}
	o.forget(sess)
	if saveErr != nil {
		return snap, fmt.Errorf("failed to save scan: %w", saveErr)
	}
	o.logger.Info("scan stopped", zap.String("scan_id", id))
	return snap, nil
}

// Get returns the current state of a scan
func (o *Orchestrator) Get(ctx context.Context, id string) (*scan.Scan, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	o.mu.Unlock()
	if ok {
		return sess.snapshot(), nil
	}

	s, err := o.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return s, nil
}

// List returns every stored scan, newest first, with live state for active sessions.
func (o *Orchestrator) List(ctx context.Context) ([]*scan.Scan, error) {
	scans, err := o.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}

	o.mu.Lock()
	live := make(map[string]*session, len(o.sessions))
	for id, sess := range o.sessions {
		live[id] = sess
	}
	o.mu.Unlock()

	for i, s := range scans {
		if sess, ok := live[s.ID()]; ok {
			scans[i] = sess.snapshot()
		}
	}
	return scans, nil
}

// Delete removes a scan that is not running
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	o.mu.Unlock()
	if ok {
		sess.mu.Lock()
		status := sess.scan.Status()
		sess.mu.Unlock()
		if status == scan.StatusRunning {
			return fmt.Errorf("%w: stop or pause the scan before deleting it", sharedErrors.ErrInvalidTransition)
		}
		o.mu.Lock()
		if o.sessions[id] == sess {
			delete(o.sessions, id)
		}
		o.mu.Unlock()
	}

	if err := o.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete scan: %w", err)
	}
	o.logger.Info("scan deleted", zap.String("scan_id", id))
	return nil
}

// Wait blocks until the scan's pipeline goroutine exits (completion, failure or pause)
// and returns the resulting state.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*scan.Scan, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return o.Get(ctx, id)
	}

	select {
	case <-sess.finished():
		return sess.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe streams a snapshot after every persisted scan mutation.
func (o *Orchestrator) Subscribe() (<-chan *scan.Scan, func()) {
	return o.notifier.Subscribe()
}

// Active returns the number of scans whose pipeline is currently running.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, sess := range o.sessions {
		sess.mu.Lock()
		if sess.scan.Status() == scan.StatusRunning {
			n++
		}
		sess.mu.Unlock()
	}
	return n
}

// Shutdown pauses every running scan so it can be resumed later, then waits for the
// pipelines to exit. Scans still running when ctx expires are aborted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	sessions := make([]*session, 0, len(o.sessions))
	ids := make([]string, 0, len(o.sessions))
	for id, sess := range o.sessions {
		sessions = append(sessions, sess)
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := o.Pause(ctx, id); err != nil && !errors.Is(err, sharedErrors.ErrInvalidTransition) {
			errs = append(errs, err)
		}
	}
	for _, sess := range sessions {
		select {
		case <-sess.finished():
		case <-ctx.Done():
			o.shutdown(errOrchestratorClosed)
			return ctx.Err()
		}
	}
	o.shutdown(errOrchestratorClosed)
	return errors.Join(errs...)
}

// lookup returns the live session for id, adopting a non-terminal scan from the
// repository when this process does not own it yet.
func (o *Orchestrator) lookup(ctx context.Context, id string) (*session, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	o.mu.Unlock()
	if ok {
		return sess, nil
	}

	s, err := o.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status().Terminal() {
		return nil, fmt.Errorf("%w: scan is %s", sharedErrors.ErrScanFinished, s.Status())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.sessions[id]; ok {
		return existing, nil
	}
	sess = newSession(s)
	o.sessions[id] = sess
	return sess, nil
}

// forget drops a terminal session from the registry.
func (o *Orchestrator) forget(sess *session) {
	sess.mu.Lock()
	id := sess.scan.ID()
	status := sess.scan.Status()
	sess.mu.Unlock()
	if !status.Terminal() {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[id] == sess {
		delete(o.sessions, id)
		o.finished.WithLabelValues(string(status)).Inc()
	}
}

// launch starts a pipeline goroutine for sess. sess.mu must be held.
func (o *Orchestrator) launch(sess *session) {
	token, cancel := context.WithCancelCause(context.Background())
	runCtx, release := transport.FirstOf(token, o.lifetime)
	done := make(chan struct{})
	sess.cancel = cancel
	sess.done = done

	go func() {
		defer close(done)
		defer cancel(nil)
		defer release()
		defer o.forget(sess)
		o.run(runCtx, sess)
	}()
}
