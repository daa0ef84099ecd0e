// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "errors"

// Sentinel errors for engine inputs.
var (
	// ErrNilContext is returned when Execute is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilPlan is returned when Execute is called with a nil plan.
	ErrNilPlan = errors.New("plan must not be nil")
)
