// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package remote abstracts the customer-data platform the core mutates.
//
// Transport, authentication, and pagination are collaborator concerns; the
// core only depends on this capability interface and invokes it exclusively
// through the rate limiter. The Fake implementation backs tests and local
// dry runs.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is the capability surface the engine and rollback manager need.
//
// Every method carries a context so per-call timeouts and cancellation are
// the caller's choice. Implementations return *RateLimitedError when the
// platform throttles despite local limiting.
type Client interface {
	// ReadProperty returns the current value of a property. Used to
	// capture rollback data before mutating.
	ReadProperty(ctx context.Context, objectType, objectID, property string) (string, error)

	// UpdateProperty sets a property to the given value.
	UpdateProperty(ctx context.Context, objectType, objectID, property, value string) error

	// DeleteObject removes the object. Not reversible.
	DeleteObject(ctx context.Context, objectType, objectID string) error

	// AddToList adds the object to a static list.
	AddToList(ctx context.Context, listID, objectID string) error

	// RemoveFromList removes the object from a static list.
	RemoveFromList(ctx context.Context, listID, objectID string) error

	// CreateAssociation links two objects with the given association type.
	CreateAssociation(ctx context.Context, fromType, fromID, assocType, toID string) error

	// MergeObjects merges mergeID into primaryID. Not reversible.
	MergeObjects(ctx context.Context, objectType, primaryID, mergeID string) error
}

// Sentinel errors for remote failures.
var (
	// ErrRateLimited is the sentinel wrapped by *RateLimitedError.
	ErrRateLimited = errors.New("remote rate limited")

	// ErrNotFound is returned when the target object does not exist.
	ErrNotFound = errors.New("remote object not found")
)

// RateLimitedError is returned when the remote platform throttles a call
// despite local limiting. Callers apply exponential backoff and retry.
type RateLimitedError struct {
	// RetryAfter is the platform's suggested wait, zero if not provided.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("remote rate limited, retry after %s", e.RetryAfter)
	}
	return "remote rate limited"
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// IsRetryable reports whether an error should trigger a backoff retry.
// Only platform throttling is retried; everything else surfaces to the
// per-action error handling immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
