// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine executes an action plan against the remote platform.
//
// The engine consumes a dependency-ordered action list, captures
// compensating data per reversible action, dispatches mutations through the
// shared rate limiter, tracks per-action and aggregate outcomes, and decides
// the final run status. One action is fully resolved (rollback capture,
// mutation, bookkeeping) before the next begins; mutations are never issued
// concurrently within a run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/lock"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/ratelimit"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/remote"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/resolver"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/store"
)

var (
	tracer = otel.Tracer("remediation.engine")
	meter  = otel.Meter("remediation.engine")
)

// Progress is delivered to the caller's callback after each action.
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int

	// CurrentAction describes the action just finished.
	CurrentAction string
}

// ProgressFunc receives progress updates. May be nil.
type ProgressFunc func(Progress)

// Options control one execution run.
type Options struct {
	// DryRun skips every mutation; all actions end up skipped and no
	// remote call is issued.
	DryRun bool

	// ContinueOnError keeps executing after a failed action. When false,
	// the run stops at the first failure, records resume_from, and leaves
	// the remaining actions out of the record entirely.
	ContinueOnError bool

	// CallTimeout bounds each individual remote call. Zero means no
	// per-call timeout.
	CallTimeout time.Duration

	// Retry is the backoff policy applied when the remote platform
	// throttles a call despite local limiting.
	Retry remote.RetryConfig
}

// Engine executes action plans.
//
// # Thread Safety
//
// Safe for concurrent use; the per-account execution lock serializes runs
// that target the same account.
type Engine struct {
	client  remote.Client
	limiter *ratelimit.Limiter
	locks   *lock.Manager
	store   *store.Store
	logger  *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce    sync.Once
	actionLatency  metric.Float64Histogram
	actionSuccess  metric.Int64Counter
	actionFailures metric.Int64Counter
	activeActions  metric.Int64UpDownCounter
	runLatency     metric.Float64Histogram
}

// New creates an Engine. All collaborators are injected; the engine never
// reaches for ambient singletons.
func New(client remote.Client, limiter *ratelimit.Limiter, locks *lock.Manager, st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:  client,
		limiter: limiter,
		locks:   locks,
		store:   st,
		logger:  logger,
	}
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.actionLatency, err = meter.Float64Histogram("remediation_action_duration_seconds",
			metric.WithDescription("Time spent executing each action"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "action_latency: "+err.Error())
		}

		e.actionSuccess, err = meter.Int64Counter("remediation_action_success_total",
			metric.WithDescription("Number of successful actions"),
		)
		if err != nil {
			initErrors = append(initErrors, "action_success: "+err.Error())
		}

		e.actionFailures, err = meter.Int64Counter("remediation_action_failure_total",
			metric.WithDescription("Number of failed actions"),
		)
		if err != nil {
			initErrors = append(initErrors, "action_failures: "+err.Error())
		}

		e.activeActions, err = meter.Int64UpDownCounter("remediation_active_actions",
			metric.WithDescription("Number of currently executing actions"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_actions: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("remediation_run_duration_seconds",
			metric.WithDescription("Total execution run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some engine metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Execute runs a plan to completion and persists the execution record.
//
// # Description
//
// Orders the plan's actions (structural errors propagate before any side
// effect), acquires the per-account execution lock, executes actions one at
// a time through the rate limiter, and releases the lock on every exit path.
// The record is persisted exactly once, at the end of the run or on early
// termination under the stop-on-error policy.
//
// Re-invoking Execute on the same plan re-runs it from the beginning;
// resume_from is recorded but never auto-replayed.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - p: A validated, immutable plan.
//   - opts: Run policy (dry run, continue-on-error, timeouts, retry).
//   - progress: Optional per-action progress callback.
//
// # Outputs
//
//   - *store.ExecutionRecord: The persisted record, also returned when the
//     run ends failed or partially_completed.
//   - error: Structural plan errors, lock contention (*lock.HeldError), or
//     persistence failure. Per-action failures are not errors here; they
//     are captured in the record.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, opts Options, progress ProgressFunc) (*store.ExecutionRecord, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if p == nil {
		return nil, ErrNilPlan
	}

	e.initMetrics()

	ordered, err := resolver.Order(p.Actions)
	if err != nil {
		return nil, fmt.Errorf("ordering plan %s: %w", p.Source, err)
	}

	executionID := "exec-" + uuid.NewString()[:12]

	ctx, span := tracer.Start(ctx, "engine.Execute",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("plan.source", p.Source),
			attribute.String("account.id", p.AccountID),
			attribute.Int("plan.actions", len(ordered)),
			attribute.Bool("execution.dry_run", opts.DryRun),
		),
	)
	defer span.End()

	if _, err := e.locks.Acquire(p.AccountID, executionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	// Guaranteed release on every exit path, including panics. A process
	// crash is bounded by the lock TTL.
	defer func() {
		if err := e.locks.Release(executionID); err != nil {
			e.logger.Error("failed to release execution lock",
				"execution_id", executionID, "error", err)
		}
	}()

	start := time.Now()
	rec := &store.ExecutionRecord{
		ID:        executionID,
		PlanID:    p.Source,
		AccountID: p.AccountID,
		DryRun:    opts.DryRun,
		StartedAt: start,
		Status:    store.StatusInProgress,
	}

	e.logger.Info("execution started",
		slog.String("execution_id", executionID),
		slog.String("plan", p.Source),
		slog.Int("actions", len(ordered)),
		slog.Bool("dry_run", opts.DryRun),
	)

	for _, action := range ordered {
		ea := e.executeAction(ctx, action, opts)
		rec.Actions = append(rec.Actions, ea)

		switch ea.Status {
		case store.ActionSuccess:
			rec.Counts.Successful++
			if !action.Reversible {
				rec.Counts.NonReversible++
			}
		case store.ActionFailed:
			rec.Counts.Failed++
		case store.ActionSkipped:
			rec.Counts.Skipped++
		}

		if progress != nil {
			progress(Progress{
				Total:         len(ordered),
				Completed:     rec.Counts.Successful,
				Failed:        rec.Counts.Failed,
				Skipped:       rec.Counts.Skipped,
				CurrentAction: action.Description(),
			})
		}

		if ea.Status == store.ActionFailed && !opts.ContinueOnError {
			// Stop immediately: remaining actions are never attempted
			// and stay absent from the record.
			rec.Status = store.StatusFailed
			rec.ResumeFrom = action.ID
			break
		}
	}

	if rec.Status != store.StatusFailed {
		rec.Status = finalStatus(rec.Counts)
	}
	rec.CompletedAt = time.Now()

	if e.runLatency != nil {
		e.runLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", string(rec.Status))),
		)
	}

	if err := e.store.Save(rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persisting record failed")
		return rec, fmt.Errorf("persisting execution record: %w", err)
	}

	if rec.Status == store.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(rec.Status))
	}

	e.logger.Info("execution finished",
		slog.String("execution_id", executionID),
		slog.String("status", string(rec.Status)),
		slog.Int("successful", rec.Counts.Successful),
		slog.Int("failed", rec.Counts.Failed),
		slog.Int("skipped", rec.Counts.Skipped),
		slog.Int("non_reversible", rec.Counts.NonReversible),
		slog.Duration("duration", time.Since(start)),
	)

	return rec, nil
}

// finalStatus derives the run outcome from aggregate counters. Only reached
// when the loop completed (or exhausted all actions under
// continue-on-error); the early-stop path sets StatusFailed directly.
func finalStatus(c store.Counts) store.Status {
	switch {
	case c.Failed == 0:
		return store.StatusCompleted
	case c.Successful > 0:
		return store.StatusPartiallyCompleted
	default:
		return store.StatusFailed
	}
}

// executeAction fully resolves one action: rollback capture, mutation, and
// outcome bookkeeping.
func (e *Engine) executeAction(ctx context.Context, action plan.Action, opts Options) store.ExecutedAction {
	ctx, span := tracer.Start(ctx, "engine.action",
		trace.WithAttributes(
			attribute.String("action.id", action.ID),
			attribute.String("action.type", string(action.Type)),
			attribute.Bool("action.reversible", action.Reversible),
		),
	)
	defer span.End()

	if e.activeActions != nil {
		e.activeActions.Add(ctx, 1)
		defer e.activeActions.Add(ctx, -1)
	}

	ea := store.ExecutedAction{
		ActionID:    action.ID,
		Type:        action.Type,
		Target:      action.Target,
		Description: action.Description(),
		Reversible:  action.Reversible,
		Status:      store.ActionPending,
	}

	// Capture the pre-mutation value first so a mid-mutation failure
	// never loses it. Capture failure is recoverable: the action still
	// executes, with the reason recorded for the rollback pre-flight.
	if action.Reversible && !opts.DryRun {
		data, err := e.captureRollback(ctx, action, opts)
		if err != nil {
			ea.CaptureError = err.Error()
			e.logger.Warn("rollback capture failed, continuing without rollback data",
				slog.String("action_id", action.ID),
				slog.String("error", err.Error()),
			)
		} else {
			ea.RollbackData = data
		}
	}

	if opts.DryRun {
		ea.Status = store.ActionSkipped
		e.logger.Debug("dry run, action skipped", slog.String("action_id", action.ID))
		return ea
	}

	start := time.Now()
	err := e.dispatch(ctx, action, opts)
	ea.ExecutedAt = time.Now()

	if e.actionLatency != nil {
		e.actionLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("type", string(action.Type))),
		)
	}

	if err != nil {
		ea.Status = store.ActionFailed
		ea.Error = err.Error()
		if e.actionFailures != nil {
			e.actionFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("type", string(action.Type))),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("action failed",
			slog.String("action_id", action.ID),
			slog.String("type", string(action.Type)),
			slog.String("error", err.Error()),
		)
		return ea
	}

	ea.Status = store.ActionSuccess
	if e.actionSuccess != nil {
		e.actionSuccess.Add(ctx, 1,
			metric.WithAttributes(attribute.String("type", string(action.Type))),
		)
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Info("action succeeded",
		slog.String("action_id", action.ID),
		slog.String("description", ea.Description),
	)
	return ea
}

// captureRollback reads the data needed to reverse the action later.
func (e *Engine) captureRollback(ctx context.Context, action plan.Action, opts Options) (*store.RollbackData, error) {
	switch action.Type {
	case plan.ActionUpdateProperty, plan.ActionSetStatus:
		var value string
		err := e.call(ctx, opts, func(ctx context.Context) error {
			var readErr error
			value, readErr = e.client.ReadProperty(ctx,
				action.Target.ObjectType, action.Target.ObjectID, action.Change.Property)
			return readErr
		})
		if err != nil {
			return nil, fmt.Errorf("reading current value of %s: %w", action.Change.Property, err)
		}
		return &store.RollbackData{
			ObjectType:    action.Target.ObjectType,
			ObjectID:      action.Target.ObjectID,
			Property:      action.Change.Property,
			OriginalValue: value,
		}, nil

	case plan.ActionRemoveFromList:
		// Membership is the original state; nothing to read remotely.
		return &store.RollbackData{
			ObjectType: action.Target.ObjectType,
			ObjectID:   action.Target.ObjectID,
			Property:   action.Change.Property,
		}, nil

	default:
		return nil, fmt.Errorf("rollback capture not supported for %s", action.Type)
	}
}

// dispatch issues the type-specific mutation through the rate limiter.
// The switch is exhaustive over plan.ActionType; an unknown kind is an
// error, never a silent no-op.
func (e *Engine) dispatch(ctx context.Context, action plan.Action, opts Options) error {
	switch action.Type {
	case plan.ActionUpdateProperty, plan.ActionSetStatus:
		return e.call(ctx, opts, func(ctx context.Context) error {
			return e.client.UpdateProperty(ctx,
				action.Target.ObjectType, action.Target.ObjectID,
				action.Change.Property, action.Change.NewValue)
		})
	case plan.ActionDeleteObject:
		return e.call(ctx, opts, func(ctx context.Context) error {
			return e.client.DeleteObject(ctx, action.Target.ObjectType, action.Target.ObjectID)
		})
	case plan.ActionRemoveFromList:
		return e.call(ctx, opts, func(ctx context.Context) error {
			return e.client.RemoveFromList(ctx, action.Change.Property, action.Target.ObjectID)
		})
	case plan.ActionCreateAssociation:
		return e.call(ctx, opts, func(ctx context.Context) error {
			return e.client.CreateAssociation(ctx,
				action.Target.ObjectType, action.Target.ObjectID,
				action.Change.Property, action.Change.NewValue)
		})
	case plan.ActionMerge:
		return e.call(ctx, opts, func(ctx context.Context) error {
			return e.client.MergeObjects(ctx,
				action.Target.ObjectType, action.Change.NewValue, action.Target.ObjectID)
		})
	default:
		return fmt.Errorf("%w: %s", plan.ErrUnknownActionType, action.Type)
	}
}

// call wraps one remote call with retry, the rate limiter, and the per-call
// timeout. Retry sits outside the limiter so every attempt consumes a token
// and occupies a slot like any other outbound call.
func (e *Engine) call(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	return remote.Retry(ctx, opts.Retry, func(ctx context.Context) error {
		return e.limiter.Execute(ctx, func(ctx context.Context) error {
			if opts.CallTimeout > 0 {
				callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
				defer cancel()
				return fn(callCtx)
			}
			return fn(ctx)
		})
	})
}
