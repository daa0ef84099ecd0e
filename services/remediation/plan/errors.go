// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"errors"
	"fmt"
)

// Sentinel errors for plan loading and dispatch.
var (
	// ErrEmptyPlan is returned when a plan file contains no actions.
	ErrEmptyPlan = errors.New("plan contains no actions")

	// ErrDuplicateActionID is returned when two actions share an id.
	// Action ids must be unique within a plan for dependency resolution
	// and execution records to be unambiguous.
	ErrDuplicateActionID = errors.New("duplicate action id")

	// ErrUnknownActionType is returned by the engine and rollback manager
	// when an action's type is outside the closed ActionType set.
	ErrUnknownActionType = errors.New("unknown action type")
)

// ValidationError wraps field-level validation failures from plan loading.
type ValidationError struct {
	// Path is the plan file that failed validation.
	Path string

	// Err is the underlying validator error.
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
