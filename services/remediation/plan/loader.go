// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// validate is shared across loads; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a plan file.
//
// # Description
//
// Parses the JSON plan at path, runs struct validation (required fields and
// enum membership via validator tags), and checks that action ids are unique.
// Dependency reference and cycle checks are the resolver's responsibility;
// Load only guarantees the plan is structurally sound.
//
// # Inputs
//
//   - path: Path to a plan JSON file written by the analysis phase.
//
// # Outputs
//
//   - *Plan: The validated, immutable plan.
//   - error: Non-nil on read, parse, or validation failure. Validation
//     failures are a *ValidationError wrapping the validator error.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}

	if err := validate.Struct(&p); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	if len(p.Actions) == 0 {
		return nil, fmt.Errorf("plan %s: %w", path, ErrEmptyPlan)
	}

	seen := make(map[string]struct{}, len(p.Actions))
	for _, a := range p.Actions {
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("plan %s: %w: %s", path, ErrDuplicateActionID, a.ID)
		}
		seen[a.ID] = struct{}{}
	}

	return &p, nil
}
