// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/lock"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/ratelimit"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/remote"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/store"
)

type harness struct {
	manager *Manager
	fake    *remote.Fake
	locks   *lock.Manager
	store   *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	fake := remote.NewFake()
	limiter := ratelimit.New(ratelimit.Config{
		MaxTokens:      1000,
		RefillInterval: 10 * time.Millisecond,
		MaxConcurrent:  5,
	})
	t.Cleanup(limiter.Destroy)

	locks, err := lock.NewManager(lock.Config{Dir: dir, TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { locks.Close() })

	st, err := store.New(dir, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}

	return &harness{
		manager: New(fake, limiter, locks, st, Config{
			Retry: remote.RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     5 * time.Millisecond,
				BackoffFactor:  2.0,
			},
		}),
		fake:  fake,
		locks: locks,
		store: st,
	}
}

func successAction(id, objectID, property, originalValue string) store.ExecutedAction {
	return store.ExecutedAction{
		ActionID:   id,
		Type:       plan.ActionUpdateProperty,
		Target:     plan.Target{ObjectType: "contact", ObjectID: objectID},
		Reversible: true,
		Status:     store.ActionSuccess,
		RollbackData: &store.RollbackData{
			ObjectType:    "contact",
			ObjectID:      objectID,
			Property:      property,
			OriginalValue: originalValue,
		},
	}
}

func saveRecord(t *testing.T, st *store.Store, rec *store.ExecutionRecord) {
	t.Helper()
	if rec.ID == "" {
		rec.ID = "exec-test"
	}
	if rec.AccountID == "" {
		rec.AccountID = "portal-1"
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if err := st.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestRollback(t *testing.T) {
	t.Run("restores captured values in reverse order", func(t *testing.T) {
		h := newHarness(t)
		h.fake.SetProperty("contact", "c-1", "email", "new@x.com")
		h.fake.SetProperty("contact", "c-2", "phone", "999")

		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:     "exec-test",
			Status: store.StatusCompleted,
			Actions: []store.ExecutedAction{
				successAction("a1", "c-1", "email", "old@x.com"),
				successAction("a2", "c-2", "phone", "555"),
			},
		})

		result, err := h.manager.Rollback(context.Background(), "exec-test")
		if err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}

		if result.RolledBack != 2 || result.Failed != 0 {
			t.Errorf("result = %+v", result)
		}
		if got, _ := h.fake.Property("contact", "c-1", "email"); got != "old@x.com" {
			t.Errorf("email = %q, want old@x.com", got)
		}
		if got, _ := h.fake.Property("contact", "c-2", "phone"); got != "555" {
			t.Errorf("phone = %q, want 555", got)
		}

		// Last executed action is restored first.
		calls := h.fake.MutationCalls()
		if len(calls) != 2 || calls[0].ObjectID != "c-2" || calls[1].ObjectID != "c-1" {
			t.Errorf("restore order = %+v", calls)
		}
	})

	t.Run("stamps the record so a second rollback fails", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:      "exec-test",
			Status:  store.StatusCompleted,
			Actions: []store.ExecutedAction{successAction("a1", "c-1", "email", "old")},
		})

		if _, err := h.manager.Rollback(context.Background(), "exec-test"); err != nil {
			t.Fatalf("first Rollback failed: %v", err)
		}

		loaded, err := h.store.Load("exec-test")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.RolledBackAt == nil {
			t.Fatal("rolled_back_at not stamped")
		}

		_, err = h.manager.Rollback(context.Background(), "exec-test")
		if !errors.Is(err, ErrAlreadyRolledBack) {
			t.Fatalf("expected ErrAlreadyRolledBack, got %v", err)
		}
	})

	t.Run("re-adds removed list members", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:     "exec-test",
			Status: store.StatusCompleted,
			Actions: []store.ExecutedAction{{
				ActionID:   "rm",
				Type:       plan.ActionRemoveFromList,
				Target:     plan.Target{ObjectType: "contact", ObjectID: "c-1"},
				Reversible: true,
				Status:     store.ActionSuccess,
				RollbackData: &store.RollbackData{
					ObjectType: "contact",
					ObjectID:   "c-1",
					Property:   "list-9",
				},
			}},
		})

		result, err := h.manager.Rollback(context.Background(), "exec-test")
		if err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if result.RolledBack != 1 {
			t.Errorf("result = %+v", result)
		}
		if !h.fake.Lists["list-9"]["c-1"] {
			t.Error("member not re-added to list")
		}
	})

	t.Run("counts non-reversible actions without calling the API", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:     "exec-test",
			Status: store.StatusCompleted,
			Actions: []store.ExecutedAction{{
				ActionID: "del",
				Type:     plan.ActionDeleteObject,
				Target:   plan.Target{ObjectType: "contact", ObjectID: "c-1"},
				Status:   store.ActionSuccess,
			}},
		})

		result, err := h.manager.Rollback(context.Background(), "exec-test")
		if err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if result.NonReversible != 1 || result.RolledBack != 0 || result.Failed != 0 {
			t.Errorf("result = %+v", result)
		}
		if len(h.fake.Calls) != 0 {
			t.Errorf("unexpected remote calls: %+v", h.fake.Calls)
		}
	})

	t.Run("reversible action without captured data is reported failed", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:     "exec-test",
			Status: store.StatusCompleted,
			Actions: []store.ExecutedAction{{
				ActionID:     "a1",
				Type:         plan.ActionUpdateProperty,
				Target:       plan.Target{ObjectType: "contact", ObjectID: "c-1"},
				Reversible:   true,
				Status:       store.ActionSuccess,
				CaptureError: "read failed during execution",
			}},
		})

		result, err := h.manager.Rollback(context.Background(), "exec-test")
		if err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if result.Failed != 1 {
			t.Errorf("result = %+v", result)
		}
		if len(result.Errors) != 1 || result.Errors[0].Error != ErrNoRollbackData.Error() {
			t.Errorf("errors = %+v", result.Errors)
		}
	})

	t.Run("a failed step does not stop the remaining steps", func(t *testing.T) {
		h := newHarness(t)
		h.fake.FailOn["update-property:c-2"] = errors.New("remote rejected")

		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:     "exec-test",
			Status: store.StatusCompleted,
			Actions: []store.ExecutedAction{
				successAction("a1", "c-1", "email", "old-1"),
				successAction("a2", "c-2", "email", "old-2"),
			},
		})

		result, err := h.manager.Rollback(context.Background(), "exec-test")
		if err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if result.Failed != 1 || result.RolledBack != 1 {
			t.Errorf("result = %+v", result)
		}
		// a1 (earlier in execution order) was still restored after a2 failed.
		if got, _ := h.fake.Property("contact", "c-1", "email"); got != "old-1" {
			t.Errorf("email = %q", got)
		}
	})

	t.Run("skips failed and skipped actions", func(t *testing.T) {
		h := newHarness(t)
		failed := successAction("a1", "c-1", "email", "old")
		failed.Status = store.ActionFailed
		skipped := successAction("a2", "c-2", "email", "old")
		skipped.Status = store.ActionSkipped

		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:      "exec-test",
			Status:  store.StatusPartiallyCompleted,
			Actions: []store.ExecutedAction{failed, skipped},
		})

		result, err := h.manager.Rollback(context.Background(), "exec-test")
		if err != nil {
			t.Fatalf("Rollback failed: %v", err)
		}
		if result.RolledBack != 0 || result.Failed != 0 || result.NonReversible != 0 {
			t.Errorf("result = %+v", result)
		}
		if len(h.fake.Calls) != 0 {
			t.Errorf("unexpected remote calls: %+v", h.fake.Calls)
		}
	})

	t.Run("unknown execution id", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.manager.Rollback(context.Background(), "exec-nope")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("takes the account lock while rolling back", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:      "exec-test",
			Status:  store.StatusCompleted,
			Actions: []store.ExecutedAction{successAction("a1", "c-1", "email", "old")},
		})

		if _, err := h.locks.Acquire("portal-1", "exec-live"); err != nil {
			t.Fatalf("pre-acquire failed: %v", err)
		}

		_, err := h.manager.Rollback(context.Background(), "exec-test")
		if !errors.Is(err, lock.ErrHeld) {
			t.Fatalf("expected ErrHeld, got %v", err)
		}
		if len(h.fake.Calls) != 0 {
			t.Errorf("restore calls issued while locked: %+v", h.fake.Calls)
		}
	})
}

func TestCanRollback(t *testing.T) {
	t.Run("reports reversible and non-reversible counts", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:     "exec-test",
			Status: store.StatusCompleted,
			Actions: []store.ExecutedAction{
				successAction("a1", "c-1", "email", "old"),
				{
					ActionID: "del",
					Type:     plan.ActionDeleteObject,
					Target:   plan.Target{ObjectType: "contact", ObjectID: "c-2"},
					Status:   store.ActionSuccess,
				},
			},
		})

		pf, err := h.manager.CanRollback("exec-test")
		if err != nil {
			t.Fatalf("CanRollback failed: %v", err)
		}
		if !pf.CanRollback || pf.ReversibleCount != 1 || pf.NonReversibleCount != 1 {
			t.Errorf("preflight = %+v", pf)
		}
	})

	t.Run("already rolled back", func(t *testing.T) {
		h := newHarness(t)
		now := time.Now()
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:           "exec-test",
			Status:       store.StatusCompleted,
			Actions:      []store.ExecutedAction{successAction("a1", "c-1", "email", "old")},
			RolledBackAt: &now,
		})

		pf, err := h.manager.CanRollback("exec-test")
		if err != nil {
			t.Fatalf("CanRollback failed: %v", err)
		}
		if pf.CanRollback {
			t.Error("already rolled back record should not be rollbackable")
		}
		if pf.Reason == "" {
			t.Error("reason missing")
		}
	})

	t.Run("dry run has nothing to reverse", func(t *testing.T) {
		h := newHarness(t)
		skipped := successAction("a1", "c-1", "email", "old")
		skipped.Status = store.ActionSkipped
		skipped.RollbackData = nil
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:      "exec-test",
			DryRun:  true,
			Status:  store.StatusCompleted,
			Actions: []store.ExecutedAction{skipped},
		})

		pf, err := h.manager.CanRollback("exec-test")
		if err != nil {
			t.Fatalf("CanRollback failed: %v", err)
		}
		if pf.CanRollback {
			t.Error("dry run should not be rollbackable")
		}
	})

	t.Run("does not mutate or lock anything", func(t *testing.T) {
		h := newHarness(t)
		saveRecord(t, h.store, &store.ExecutionRecord{
			ID:      "exec-test",
			Status:  store.StatusCompleted,
			Actions: []store.ExecutedAction{successAction("a1", "c-1", "email", "old")},
		})

		if _, err := h.manager.CanRollback("exec-test"); err != nil {
			t.Fatalf("CanRollback failed: %v", err)
		}
		if len(h.fake.Calls) != 0 {
			t.Errorf("unexpected remote calls: %+v", h.fake.Calls)
		}
		held, _, _ := h.locks.Status()
		if held {
			t.Error("CanRollback took the lock")
		}
	})
}
