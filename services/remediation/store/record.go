// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store models and persists execution records.
//
// One JSON file per execution is written under <output_dir>/executions/.
// A record is mutated only during its run, persisted once at the end (or on
// early termination), and immutable thereafter except for the rolled-back
// stamp set by the rollback manager.
package store

import (
	"time"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
)

// Status is the run-level outcome state machine: in_progress transitions to
// exactly one of the terminal states and never back.
type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartiallyCompleted || s == StatusFailed
}

// ActionStatus is the per-action outcome within one run.
type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

// RollbackData is the pre-mutation value captured so the rollback manager
// can restore it later. For list removals, Property holds the list id and
// OriginalValue is unused.
type RollbackData struct {
	ObjectType    string `json:"object_type"`
	ObjectID      string `json:"object_id"`
	Property      string `json:"property"`
	OriginalValue string `json:"original_value"`
}

// ExecutedAction is the outcome of one action within one run.
//
// It carries enough of the source action (type, target, reversibility) for
// the rollback manager to work from the record alone, without reloading the
// plan.
type ExecutedAction struct {
	ActionID    string          `json:"action_id"`
	Type        plan.ActionType `json:"type"`
	Target      plan.Target     `json:"target"`
	Description string          `json:"description"`
	Reversible  bool            `json:"reversible"`

	Status ActionStatus `json:"status"`

	// RollbackData is non-nil only when the action is reversible, the run
	// was not a dry run, and the pre-mutation value could be read.
	RollbackData *RollbackData `json:"rollback_data,omitempty"`

	// Error is the mutation failure message, empty on success.
	Error string `json:"error,omitempty"`

	// CaptureError records a rollback-data capture failure that did not
	// stop the action from executing.
	CaptureError string `json:"capture_error,omitempty"`

	ExecutedAt time.Time `json:"executed_at"`
}

// Counts are the run's aggregate outcome counters.
type Counts struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`

	// NonReversible counts successful actions that cannot be rolled back,
	// surfaced so a confirmation layer can warn about them.
	NonReversible int `json:"non_reversible"`
}

// ExecutionRecord is one execution attempt.
type ExecutionRecord struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	AccountID string `json:"account_id"`
	DryRun    bool   `json:"dry_run"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Status Status `json:"status"`
	Counts Counts `json:"counts"`

	// Actions holds outcomes in execution order. Actions never attempted
	// because of an early stop are absent.
	Actions []ExecutedAction `json:"actions"`

	// ResumeFrom is the id of the action a stopped run failed on. It is
	// recorded for callers; the core never auto-replays it.
	ResumeFrom string `json:"resume_from,omitempty"`

	// RolledBackAt is stamped by the rollback manager so a record is
	// never rolled back twice.
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}
