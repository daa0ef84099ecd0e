// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolver linearizes a plan's action graph so that every action
// runs strictly after all of its declared dependencies.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
)

// UnresolvedDependencyError reports dependency ids that do not name any
// action in the plan. It is detected by an upfront validation pass so a
// dangling reference is never conflated with a true cycle.
type UnresolvedDependencyError struct {
	// Missing maps an action id to the dependency ids it references that
	// do not exist in the plan.
	Missing map[string][]string
}

func (e *UnresolvedDependencyError) Error() string {
	ids := make([]string, 0, len(e.Missing))
	for id := range e.Missing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("unresolved dependencies in actions: %s", strings.Join(ids, ", "))
}

// CycleError reports that ordering made no progress over a set of actions
// whose references are all valid, which means they form at least one
// dependency cycle.
type CycleError struct {
	// Remaining lists the action ids that could not be ordered, in plan
	// order.
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among actions: %s", strings.Join(e.Remaining, ", "))
}

// Order returns the plan's actions in dependency order.
//
// # Description
//
// Runs repeated selection passes: each pass scans the remaining actions in
// original plan order and appends any action whose dependencies have all been
// ordered already. Ties among simultaneously-ready actions are broken by
// original plan order, so the output is deterministic for a given plan.
//
// Before ordering, every dependency reference is validated; dangling ids
// fail with *UnresolvedDependencyError. A pass that makes no progress over
// valid references fails with *CycleError naming the stuck actions. Ordering
// never silently drops actions: on success the output is a permutation of
// the full input.
//
// This is O(n^2) in the worst case, which is fine for plans in the hundreds
// of actions.
//
// # Inputs
//
//   - actions: The plan's action list. May be in any order.
//
// # Outputs
//
//   - []plan.Action: All input actions, dependencies first.
//   - error: *UnresolvedDependencyError or *CycleError on failure.
func Order(actions []plan.Action) ([]plan.Action, error) {
	if err := validateReferences(actions); err != nil {
		return nil, err
	}

	ordered := make([]plan.Action, 0, len(actions))
	completed := make(map[string]struct{}, len(actions))
	remaining := make([]plan.Action, len(actions))
	copy(remaining, actions)

	for len(remaining) > 0 {
		next := remaining[:0]
		progressed := false

		for _, a := range remaining {
			if ready(a, completed) {
				ordered = append(ordered, a)
				completed[a.ID] = struct{}{}
				progressed = true
			} else {
				next = append(next, a)
			}
		}

		if !progressed {
			ids := make([]string, len(next))
			for i, a := range next {
				ids[i] = a.ID
			}
			return nil, &CycleError{Remaining: ids}
		}
		remaining = next
	}

	return ordered, nil
}

// ready reports whether all of a's dependencies have been ordered.
func ready(a plan.Action, completed map[string]struct{}) bool {
	for _, dep := range a.DependsOn {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// validateReferences checks that every dependency id names an action in the
// same plan.
func validateReferences(actions []plan.Action) error {
	known := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		known[a.ID] = struct{}{}
	}

	missing := make(map[string][]string)
	for _, a := range actions {
		for _, dep := range a.DependsOn {
			if _, ok := known[dep]; !ok {
				missing[a.ID] = append(missing[a.ID], dep)
			}
		}
	}

	if len(missing) > 0 {
		return &UnresolvedDependencyError{Missing: missing}
	}
	return nil
}
