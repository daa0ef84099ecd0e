// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan defines the action plan consumed by the remediation core.
//
// A Plan is produced by the (out of scope) analysis phase and persisted as a
// JSON file. The core treats it as read-only: actions are never mutated after
// the plan is loaded, and execution bookkeeping lives entirely in the
// execution record (see the store package).
//
// # Thread Safety
//
// Plan and Action are immutable after Load returns and are safe to share
// across goroutines without synchronization.
package plan

import (
	"fmt"
	"time"
)

// ActionType enumerates the closed set of mutation kinds the engine can
// dispatch. Adding a kind requires updating the engine and rollback dispatch
// switches; both fail with ErrUnknownActionType on anything outside this set
// rather than silently skipping.
type ActionType string

const (
	// ActionUpdateProperty sets a property to a new value. Reversible.
	ActionUpdateProperty ActionType = "update-property"

	// ActionSetStatus updates a lifecycle/status property. Reversible.
	ActionSetStatus ActionType = "set-status"

	// ActionDeleteObject removes the target object. Not reversible.
	ActionDeleteObject ActionType = "delete-object"

	// ActionRemoveFromList removes the target from a static list.
	// Reversible (the inverse is re-adding the member).
	ActionRemoveFromList ActionType = "remove-from-list"

	// ActionCreateAssociation links the target to another object.
	// Not reversible in this core.
	ActionCreateAssociation ActionType = "create-association"

	// ActionMerge merges the target into a surviving object. Not reversible.
	ActionMerge ActionType = "merge"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionUpdateProperty, ActionSetStatus, ActionDeleteObject,
		ActionRemoveFromList, ActionCreateAssociation, ActionMerge:
		return true
	default:
		return false
	}
}

// Confidence grades how certain the analysis phase is about an action.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DetectionMethod records how the analysis phase found the defect.
type DetectionMethod string

const (
	DetectedByRule        DetectionMethod = "rule"
	DetectedByReasoning   DetectionMethod = "ai-reasoning"
	DetectedByExploratory DetectionMethod = "ai-exploratory"
)

// Target identifies the remote object an action mutates.
type Target struct {
	ObjectType string `json:"object_type" validate:"required"`
	ObjectID   string `json:"object_id" validate:"required"`
}

// Change describes the property-level mutation an action proposes.
//
// The Property field is overloaded by action type: for update-property and
// set-status it is the property name; for remove-from-list it is the list id;
// for create-association it is the association type. For merge and
// delete-object it is unused.
type Change struct {
	Property string `json:"property"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Action is one proposed mutation against a remote record. Immutable once
// the plan is built.
type Action struct {
	// ID is unique within the plan.
	ID string `json:"id" validate:"required"`

	// Type selects the mutation dispatched by the engine.
	Type ActionType `json:"type" validate:"required,oneof=update-property set-status delete-object remove-from-list create-association merge"`

	Target Target `json:"target"`
	Change Change `json:"change"`

	Confidence      Confidence      `json:"confidence" validate:"omitempty,oneof=high medium low"`
	DetectionMethod DetectionMethod `json:"detection_method" validate:"omitempty,oneof=rule ai-reasoning ai-exploratory"`

	// Reversible marks whether the engine should capture rollback data
	// before mutating. Set by the analysis phase per action; the engine
	// trusts it rather than re-deriving it from Type.
	Reversible bool `json:"reversible"`

	// RequiresConfirmation flags destructive actions a confirmation layer
	// should surface before authorizing execution.
	RequiresConfirmation bool `json:"requires_confirmation"`

	// DependsOn lists ids of actions in the same plan that must complete
	// before this one runs.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Description returns a short human-readable summary for progress output.
func (a Action) Description() string {
	switch a.Type {
	case ActionUpdateProperty, ActionSetStatus:
		return fmt.Sprintf("%s %s/%s.%s -> %q",
			a.Type, a.Target.ObjectType, a.Target.ObjectID, a.Change.Property, a.Change.NewValue)
	case ActionRemoveFromList:
		return fmt.Sprintf("remove %s/%s from list %s",
			a.Target.ObjectType, a.Target.ObjectID, a.Change.Property)
	case ActionCreateAssociation:
		return fmt.Sprintf("associate %s/%s -[%s]-> %s",
			a.Target.ObjectType, a.Target.ObjectID, a.Change.Property, a.Change.NewValue)
	case ActionMerge:
		return fmt.Sprintf("merge %s/%s into %s",
			a.Target.ObjectType, a.Target.ObjectID, a.Change.NewValue)
	case ActionDeleteObject:
		return fmt.Sprintf("delete %s/%s", a.Target.ObjectType, a.Target.ObjectID)
	default:
		return fmt.Sprintf("%s %s/%s", a.Type, a.Target.ObjectType, a.Target.ObjectID)
	}
}

// Summary carries the aggregate statistics the analysis phase computed when
// it built the plan. The core reads it for display only.
type Summary struct {
	Total                int `json:"total"`
	Reversible           int `json:"reversible"`
	RequiresConfirmation int `json:"requires_confirmation"`
}

// Plan is an ordered, immutable collection of actions plus summary stats.
type Plan struct {
	// Source names the audit that produced the plan (used in file names).
	Source string `json:"source" validate:"required"`

	// AccountID scopes the plan to one remote portal. It is also the
	// execution lock scope.
	AccountID string `json:"account_id" validate:"required"`

	GeneratedAt time.Time `json:"generated_at"`

	Actions []Action `json:"actions" validate:"dive"`

	Summary Summary `json:"summary"`
}

// ActionByID returns the action with the given id, or false when absent.
func (p *Plan) ActionByID(id string) (Action, bool) {
	for _, a := range p.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}
