package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	"github.com/khanhnv2901/seca-recon/internal/modules"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

const abortedReason = "scan aborted"

// run executes the configured modules in order. Each state change is persisted
// before the next module starts.
func (o *Orchestrator) run(ctx context.Context, sess *session) {
	sess.mu.Lock()
	id := sess.scan.ID()
	cfg := sess.scan.Config()
	sess.mu.Unlock()

	logger := o.logger.With(zap.String("scan_id", id))

	target, err := modules.ParseTarget(cfg.Target)
	if err != nil {
		o.apply(ctx, sess, logger, func(s *scan.Scan) error {
			return s.Fail(fmt.Sprintf("invalid target: %v", err))
		})
		return
	}
	env := o.moduleEnv(cfg, logger)

	for i, kind := range cfg.Modules {
		if ctx.Err() != nil {
			o.interrupted(ctx, sess, logger)
			return
		}

		sess.mu.Lock()
		skip := sess.scan.IsCompleted(kind)
		sess.mu.Unlock()
		if skip {
			continue
		}

		if !o.apply(ctx, sess, logger, func(s *scan.Scan) error { return s.BeginModule(i, kind) }) {
			return
		}

		result, err := o.runModule(ctx, kind, env, target)
		if ctx.Err() != nil {
			o.interrupted(ctx, sess, logger)
			return
		}

		if err != nil {
			logger.Warn("module failed", zap.String("module", string(kind)), zap.Error(err))
			if !o.apply(ctx, sess, logger, func(s *scan.Scan) error { return s.RecordModuleError(kind, err) }) {
				return
			}
			continue
		}
		logger.Debug("module completed", zap.String("module", string(kind)))
		if !o.apply(ctx, sess, logger, func(s *scan.Scan) error { return s.RecordResult(result) }) {
			return
		}
	}

	if o.apply(ctx, sess, logger, func(s *scan.Scan) error { return s.Complete() }) {
		logger.Info("scan completed")
	}
}

// runModule builds and runs one module, converting a panic into a module error.
func (o *Orchestrator) runModule(ctx context.Context, kind recon.Module, env modules.Env, target modules.Target) (result recon.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("module panicked",
				zap.String("module", string(kind)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &recon.ModuleError{Module: kind, Err: err}
		}
	}()

	m, err := o.opts.NewModule(kind, env)
	if err != nil {
		return nil, err
	}
	result, err = m.Run(ctx, target)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("module returned no result")
	}
	if result.Module() != kind {
		return nil, fmt.Errorf("module returned a %s result", result.Module())
	}
	return result, nil
}

// interrupted finishes a pipeline whose context was cancelled. Pause and stop have
// already recorded their state; any other cause fails the scan.
func (o *Orchestrator) interrupted(ctx context.Context, sess *session, logger *zap.Logger) {
	cause := context.Cause(ctx)
	if errors.Is(cause, sharedErrors.ErrScanPaused) || errors.Is(cause, sharedErrors.ErrScanStopped) {
		logger.Debug("pipeline interrupted", zap.NamedError("cause", cause))
		return
	}
	logger.Warn("scan aborted", zap.NamedError("cause", cause))
	o.apply(ctx, sess, logger, func(s *scan.Scan) error { return s.Fail(abortedReason) })
}

// apply mutates a running scan, persists it and notifies subscribers. It returns false
// when the pipeline must end because the scan is no longer running or could not be saved.
func (o *Orchestrator) apply(ctx context.Context, sess *session, logger *zap.Logger, mutate func(*scan.Scan) error) bool {
	sess.mu.Lock()
	if sess.scan.Status() != scan.StatusRunning {
		sess.mu.Unlock()
		return false
	}
	if err := mutate(sess.scan); err != nil {
		sess.mu.Unlock()
		logger.Error("scan update rejected", zap.Error(err))
		return false
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := o.repo.Save(saveCtx, sess.scan); err != nil {
		logger.Error("failed to persist scan, failing it", zap.Error(err))
		if !sess.scan.Status().Terminal() {
			_ = sess.scan.Fail(fmt.Sprintf("persistence: %v", err))
		}
		if retryErr := o.repo.Save(saveCtx, sess.scan); retryErr != nil {
			logger.Error("failed to persist scan failure", zap.Error(retryErr))
		}
		snap := sess.scan.Clone()
		sess.mu.Unlock()
		o.notifier.Broadcast(snap)
		return false
	}

	snap := sess.scan.Clone()
	sess.mu.Unlock()
	o.notifier.Broadcast(snap)
	return true
}

func (o *Orchestrator) moduleEnv(cfg scan.Config, logger *zap.Logger) modules.Env {
	resolver := transport.NewResolver(o.opts.HTTPClient, cfg.Relays, logger)
	executor := transport.NewExecutor(resolver, transport.ExecutorConfig{
		Threads:    cfg.Threads,
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
	}, o.metrics, logger)

	effective := executor.Config()
	logger.Debug("scan transport ready",
		zap.Int("threads", effective.Threads),
		zap.Duration("timeout", effective.Timeout),
		zap.Int("retries", effective.Retries),
		zap.Strings("relays", resolver.Relays()))

	return modules.Env{
		Fetcher:  executor,
		Config:   cfg,
		Logger:   logger,
		Whois:    o.opts.Whois,
		Dialer:   o.opts.Dialer,
		CRTShURL: o.opts.CRTShURL,
	}
}
