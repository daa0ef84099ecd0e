// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rollback reverses a past execution's successful reversible
// actions using the compensating data captured during forward execution.
//
// Rollback is always best-effort: errors accumulate and never short-circuit
// the remaining steps. Restores run in reverse execution order and go
// through the same rate limiter as forward execution.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/lock"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/ratelimit"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/remote"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/store"
)

var tracer = otel.Tracer("remediation.rollback")

// Sentinel errors for rollback preconditions.
var (
	// ErrAlreadyRolledBack is returned when the record carries a
	// rolled-back stamp from a previous rollback.
	ErrAlreadyRolledBack = errors.New("execution already rolled back")

	// ErrNoRollbackData marks a reversible action whose pre-mutation
	// value was never captured.
	ErrNoRollbackData = errors.New("no rollback data available")
)

// ActionError records one failed rollback step.
type ActionError struct {
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

// Result is the outcome of one rollback run.
type Result struct {
	ExecutionID   string        `json:"execution_id"`
	RolledBack    int           `json:"rolled_back"`
	Failed        int           `json:"failed"`
	NonReversible int           `json:"non_reversible"`
	Errors        []ActionError `json:"errors,omitempty"`
}

// Preflight is the CanRollback inspection result. It mutates nothing.
type Preflight struct {
	CanRollback        bool   `json:"can_rollback"`
	ReversibleCount    int    `json:"reversible_count"`
	NonReversibleCount int    `json:"non_reversible_count"`
	Reason             string `json:"reason,omitempty"`
}

// Config configures a Manager.
type Config struct {
	// CallTimeout bounds each restore call. Zero means no timeout.
	CallTimeout time.Duration

	// Retry is the backoff policy for throttled restore calls.
	Retry remote.RetryConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager reverses executions.
//
// It takes the same per-account execution lock as the engine, so a rollback
// never races a concurrently started forward run on the same account.
type Manager struct {
	client  remote.Client
	limiter *ratelimit.Limiter
	locks   *lock.Manager
	store   *store.Store
	cfg     Config
}

// New creates a rollback Manager with injected collaborators.
func New(client remote.Client, limiter *ratelimit.Limiter, locks *lock.Manager, st *store.Store, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		client:  client,
		limiter: limiter,
		locks:   locks,
		store:   st,
		cfg:     cfg,
	}
}

// Rollback reverses the successful reversible actions of a past execution.
//
// # Description
//
// Loads the record, refuses a second rollback of the same record, acquires
// the account lock, and walks successful actions in reverse execution
// order. Non-reversible actions are counted and skipped without a remote
// call; reversible actions with no captured data are recorded as failed
// with ErrNoRollbackData; everything else issues the inverse mutation
// through the rate limiter. Errors are collected, never fatal to the loop.
//
// # Outputs
//
//   - *Result: Per-run counters and collected step errors.
//   - error: Record load failure, ErrAlreadyRolledBack, lock contention
//     (*lock.HeldError), or persistence failure when stamping the record.
func (m *Manager) Rollback(ctx context.Context, executionID string) (*Result, error) {
	rec, err := m.store.Load(executionID)
	if err != nil {
		return nil, err
	}
	if rec.RolledBackAt != nil {
		return nil, fmt.Errorf("execution %s (rolled back at %s): %w",
			executionID, rec.RolledBackAt.Format(time.RFC3339), ErrAlreadyRolledBack)
	}

	operationID := "rollback-" + uuid.NewString()[:12]

	ctx, span := tracer.Start(ctx, "rollback.Rollback",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("rollback.operation_id", operationID),
		),
	)
	defer span.End()

	if _, err := m.locks.Acquire(rec.AccountID, operationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer func() {
		if err := m.locks.Release(operationID); err != nil {
			m.cfg.Logger.Error("failed to release lock after rollback",
				"operation_id", operationID, "error", err)
		}
	}()

	result := &Result{ExecutionID: executionID}

	m.cfg.Logger.Info("rollback started",
		slog.String("execution_id", executionID),
		slog.Int("actions", len(rec.Actions)),
	)

	for i := len(rec.Actions) - 1; i >= 0; i-- {
		ea := rec.Actions[i]
		if ea.Status != store.ActionSuccess {
			continue
		}

		if !ea.Reversible {
			result.NonReversible++
			continue
		}

		if ea.RollbackData == nil {
			result.Failed++
			result.Errors = append(result.Errors, ActionError{
				ActionID: ea.ActionID,
				Error:    ErrNoRollbackData.Error(),
			})
			m.cfg.Logger.Warn("cannot roll back action",
				slog.String("action_id", ea.ActionID),
				slog.String("reason", ErrNoRollbackData.Error()),
				slog.String("capture_error", ea.CaptureError),
			)
			continue
		}

		if err := m.restore(ctx, ea); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ActionError{
				ActionID: ea.ActionID,
				Error:    err.Error(),
			})
			m.cfg.Logger.Error("rollback step failed",
				slog.String("action_id", ea.ActionID),
				slog.String("error", err.Error()),
			)
			continue
		}

		result.RolledBack++
		m.cfg.Logger.Info("rolled back action",
			slog.String("action_id", ea.ActionID),
		)
	}

	now := time.Now()
	rec.RolledBackAt = &now
	if err := m.store.Save(rec); err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("stamping rolled-back record: %w", err)
	}

	if result.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d rollback steps failed", result.Failed))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	m.cfg.Logger.Info("rollback finished",
		slog.String("execution_id", executionID),
		slog.Int("rolled_back", result.RolledBack),
		slog.Int("failed", result.Failed),
		slog.Int("non_reversible", result.NonReversible),
	)

	return result, nil
}

// CanRollback inspects whether an execution has anything to reverse,
// without mutating anything or taking the lock.
func (m *Manager) CanRollback(executionID string) (*Preflight, error) {
	rec, err := m.store.Load(executionID)
	if err != nil {
		return nil, err
	}

	pf := &Preflight{}
	successful := 0
	for _, ea := range rec.Actions {
		if ea.Status != store.ActionSuccess {
			continue
		}
		successful++
		if !ea.Reversible {
			pf.NonReversibleCount++
			continue
		}
		if ea.RollbackData != nil {
			pf.ReversibleCount++
		}
	}

	switch {
	case rec.RolledBackAt != nil:
		pf.Reason = "execution already rolled back"
	case successful == 0:
		pf.Reason = "no successful actions to reverse"
	case pf.ReversibleCount == 0:
		pf.Reason = "no reversible actions with captured rollback data"
	default:
		pf.CanRollback = true
	}
	return pf, nil
}

// restore issues the inverse mutation for one executed action. The switch
// is exhaustive over the reversible subset of plan.ActionType.
func (m *Manager) restore(ctx context.Context, ea store.ExecutedAction) error {
	data := ea.RollbackData
	switch ea.Type {
	case plan.ActionUpdateProperty, plan.ActionSetStatus:
		return m.call(ctx, func(ctx context.Context) error {
			return m.client.UpdateProperty(ctx,
				data.ObjectType, data.ObjectID, data.Property, data.OriginalValue)
		})
	case plan.ActionRemoveFromList:
		return m.call(ctx, func(ctx context.Context) error {
			return m.client.AddToList(ctx, data.Property, data.ObjectID)
		})
	case plan.ActionDeleteObject, plan.ActionCreateAssociation, plan.ActionMerge:
		// Marked reversible by mistake; there is no inverse mutation.
		return fmt.Errorf("no inverse mutation for %s", ea.Type)
	default:
		return fmt.Errorf("%w: %s", plan.ErrUnknownActionType, ea.Type)
	}
}

// call wraps one restore call with retry, the shared rate limiter, and the
// per-call timeout, mirroring the engine's forward path.
func (m *Manager) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return remote.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		return m.limiter.Execute(ctx, func(ctx context.Context) error {
			if m.cfg.CallTimeout > 0 {
				callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
				defer cancel()
				return fn(callCtx)
			}
			return fn(ctx)
		})
	})
}
