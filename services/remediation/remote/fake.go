// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package remote

import (
	"context"
	"fmt"
	"sync"
)

// Call records one invocation against the Fake for assertions.
type Call struct {
	Op         string
	ObjectType string
	ObjectID   string
	Property   string
	Value      string
}

// Fake is an in-memory Client for tests.
//
// State is keyed by "objectType/objectID". Failures are injected per
// operation and object via FailOn, or globally for the first N calls via
// ThrottleFirst (which returns *RateLimitedError, exercising the retry
// path).
//
// # Thread Safety
//
// Safe for concurrent use; the engine issues calls sequentially but tests
// may inspect state from other goroutines.
type Fake struct {
	mu sync.Mutex

	// Properties maps object key -> property -> value.
	Properties map[string]map[string]string

	// Lists maps list id -> object id -> membership.
	Lists map[string]map[string]bool

	// Associations records created links in call form.
	Associations []Call

	// Calls records every invocation in order, including failed ones.
	Calls []Call

	// FailOn maps "op:objectID" to the error that op should return.
	FailOn map[string]error

	// ThrottleFirst makes the first N calls fail with *RateLimitedError
	// before the fake starts succeeding.
	ThrottleFirst int

	throttled int
}

var _ Client = (*Fake)(nil)

// NewFake returns an empty fake client.
func NewFake() *Fake {
	return &Fake{
		Properties: make(map[string]map[string]string),
		Lists:      make(map[string]map[string]bool),
		FailOn:     make(map[string]error),
	}
}

// SetProperty seeds a property value on an object.
func (f *Fake) SetProperty(objectType, objectID, property, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(objectType, objectID)
	if f.Properties[key] == nil {
		f.Properties[key] = make(map[string]string)
	}
	f.Properties[key][property] = value
}

// Property returns the current value of a property on an object.
func (f *Fake) Property(objectType, objectID, property string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.Properties[objectKey(objectType, objectID)]
	if !ok {
		return "", false
	}
	v, ok := props[property]
	return v, ok
}

// AddListMember seeds list membership.
func (f *Fake) AddListMember(listID, objectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Lists[listID] == nil {
		f.Lists[listID] = make(map[string]bool)
	}
	f.Lists[listID][objectID] = true
}

// MutationCalls returns recorded calls excluding reads.
func (f *Fake) MutationCalls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, 0, len(f.Calls))
	for _, c := range f.Calls {
		if c.Op != "read-property" {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) ReadProperty(ctx context.Context, objectType, objectID, property string) (string, error) {
	if err := f.record(Call{Op: "read-property", ObjectType: objectType, ObjectID: objectID, Property: property}); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.Properties[objectKey(objectType, objectID)]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", objectType, objectID, ErrNotFound)
	}
	return props[property], nil
}

func (f *Fake) UpdateProperty(ctx context.Context, objectType, objectID, property, value string) error {
	if err := f.record(Call{Op: "update-property", ObjectType: objectType, ObjectID: objectID, Property: property, Value: value}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(objectType, objectID)
	if f.Properties[key] == nil {
		f.Properties[key] = make(map[string]string)
	}
	f.Properties[key][property] = value
	return nil
}

func (f *Fake) DeleteObject(ctx context.Context, objectType, objectID string) error {
	if err := f.record(Call{Op: "delete-object", ObjectType: objectType, ObjectID: objectID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Properties, objectKey(objectType, objectID))
	return nil
}

func (f *Fake) AddToList(ctx context.Context, listID, objectID string) error {
	if err := f.record(Call{Op: "add-to-list", ObjectID: objectID, Property: listID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Lists[listID] == nil {
		f.Lists[listID] = make(map[string]bool)
	}
	f.Lists[listID][objectID] = true
	return nil
}

func (f *Fake) RemoveFromList(ctx context.Context, listID, objectID string) error {
	if err := f.record(Call{Op: "remove-from-list", ObjectID: objectID, Property: listID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if members, ok := f.Lists[listID]; ok {
		delete(members, objectID)
	}
	return nil
}

func (f *Fake) CreateAssociation(ctx context.Context, fromType, fromID, assocType, toID string) error {
	call := Call{Op: "create-association", ObjectType: fromType, ObjectID: fromID, Property: assocType, Value: toID}
	if err := f.record(call); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Associations = append(f.Associations, call)
	return nil
}

func (f *Fake) MergeObjects(ctx context.Context, objectType, primaryID, mergeID string) error {
	if err := f.record(Call{Op: "merge", ObjectType: objectType, ObjectID: mergeID, Value: primaryID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	primary := objectKey(objectType, primaryID)
	merged := objectKey(objectType, mergeID)
	if f.Properties[primary] == nil {
		f.Properties[primary] = make(map[string]string)
	}
	for k, v := range f.Properties[merged] {
		if _, exists := f.Properties[primary][k]; !exists {
			f.Properties[primary][k] = v
		}
	}
	delete(f.Properties, merged)
	return nil
}

// record logs the call and applies injected failures.
func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)

	if f.throttled < f.ThrottleFirst {
		f.throttled++
		return &RateLimitedError{}
	}
	if err, ok := f.FailOn[c.Op+":"+c.ObjectID]; ok {
		return err
	}
	return nil
}

func objectKey(objectType, objectID string) string {
	return objectType + "/" + objectID
}
