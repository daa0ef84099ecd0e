// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package remediation is the top-level facade for plan execution.
//
// It wires the plan loader, dependency resolver, rate limiter, execution
// lock, execution store, engine, and rollback manager behind one Service.
// A process should hold exactly one Service per account so that every
// operation shares the same limiter and lock manager.
package remediation

import (
	"context"
	"log/slog"
	"time"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/engine"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/lock"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/ratelimit"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/remote"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/rollback"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/store"
)

// Config assembles a Service. Client and OutputDir are required; the
// rest default sensibly.
type Config struct {
	// Client talks to the remote customer-data platform.
	Client remote.Client

	// OutputDir is where execution records and the lock file live.
	OutputDir string

	// Limiter configures the shared rate limiter. Zero value means
	// ratelimit.DefaultConfig().
	Limiter ratelimit.Config

	// LockTTL bounds how long a crashed process can hold the
	// execution lock. Zero means lock.DefaultTTL.
	LockTTL time.Duration

	// CallTimeout bounds each remote call. Zero means no timeout.
	CallTimeout time.Duration

	// Retry is the backoff policy for throttled calls. Zero value
	// means remote.DefaultRetryConfig().
	Retry remote.RetryConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service owns the shared execution infrastructure for one account's
// output directory. Close it when done to stop the limiter's refill
// goroutine and the lock watcher.
type Service struct {
	client   remote.Client
	limiter  *ratelimit.Limiter
	locks    *lock.Manager
	store    *store.Store
	engine   *engine.Engine
	rollback *rollback.Manager
	logger   *slog.Logger

	callTimeout time.Duration
	retry       remote.RetryConfig
}

// NewService builds a Service from the config.
func NewService(cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limCfg := cfg.Limiter
	if limCfg.MaxTokens == 0 && limCfg.MaxConcurrent == 0 {
		limCfg = ratelimit.DefaultConfig()
	}
	limCfg.Logger = logger
	limiter := ratelimit.New(limCfg)

	locks, err := lock.NewManager(lock.Config{
		Dir:    cfg.OutputDir,
		TTL:    cfg.LockTTL,
		Logger: logger,
	})
	if err != nil {
		limiter.Destroy()
		return nil, err
	}

	st, err := store.New(cfg.OutputDir, logger)
	if err != nil {
		limiter.Destroy()
		locks.Close()
		return nil, err
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = remote.DefaultRetryConfig()
	}

	return &Service{
		client:      cfg.Client,
		limiter:     limiter,
		locks:       locks,
		store:       st,
		engine:      engine.New(cfg.Client, limiter, locks, st, logger),
		rollback: rollback.New(cfg.Client, limiter, locks, st, rollback.Config{
			CallTimeout: cfg.CallTimeout,
			Retry:       retry,
			Logger:      logger,
		}),
		logger:      logger,
		callTimeout: cfg.CallTimeout,
		retry:       retry,
	}, nil
}

// ExecuteOptions controls one forward run.
type ExecuteOptions struct {
	DryRun          bool
	ContinueOnError bool
}

// ExecuteFile loads a plan from disk and executes it.
func (s *Service) ExecuteFile(ctx context.Context, planPath string, opts ExecuteOptions, progress engine.ProgressFunc) (*store.ExecutionRecord, error) {
	p, err := plan.Load(planPath)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, p, opts, progress)
}

// Execute runs an already-loaded plan.
func (s *Service) Execute(ctx context.Context, p *plan.Plan, opts ExecuteOptions, progress engine.ProgressFunc) (*store.ExecutionRecord, error) {
	return s.engine.Execute(ctx, p, engine.Options{
		DryRun:          opts.DryRun,
		ContinueOnError: opts.ContinueOnError,
		CallTimeout:     s.callTimeout,
		Retry:           s.retry,
	}, progress)
}

// Rollback reverses a past execution by id.
func (s *Service) Rollback(ctx context.Context, executionID string) (*rollback.Result, error) {
	return s.rollback.Rollback(ctx, executionID)
}

// CanRollback inspects a past execution without mutating anything.
func (s *Service) CanRollback(executionID string) (*rollback.Preflight, error) {
	return s.rollback.CanRollback(executionID)
}

// Execution loads one execution record by id.
func (s *Service) Execution(executionID string) (*store.ExecutionRecord, error) {
	return s.store.Load(executionID)
}

// ListExecutions returns all stored records, newest first.
func (s *Service) ListExecutions() ([]*store.ExecutionRecord, error) {
	return s.store.List()
}

// Cleanup purges old records by age and total size. Zero disables
// either check. Returns the number of records removed.
func (s *Service) Cleanup(retentionDays int, maxSizeBytes int64) (int, error) {
	return s.store.Cleanup(retentionDays, maxSizeBytes)
}

// LockStatus reports whether the execution lock is held and by whom.
func (s *Service) LockStatus() (bool, *lock.Record, error) {
	return s.locks.Status()
}

// ForceReleaseLock removes the execution lock regardless of owner.
// Operator escape hatch; unsafe while an execution is actually running.
func (s *Service) ForceReleaseLock() error {
	return s.locks.ForceRelease()
}

// Close stops the limiter and the lock watcher. It does not release a
// held execution lock.
func (s *Service) Close() {
	s.limiter.Destroy()
	if err := s.locks.Close(); err != nil {
		s.logger.Warn("closing lock manager", "error", err)
	}
}
