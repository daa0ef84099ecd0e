// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/austin-cc-code/hubspot-helper/services/remediation/plan"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func testRecord(id string, startedAt time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:        id,
		PlanID:    "audit-1",
		AccountID: "portal-1",
		StartedAt: startedAt,
		Status:    StatusCompleted,
		Counts:    Counts{Successful: 1},
		Actions: []ExecutedAction{
			{
				ActionID:   "a1",
				Type:       plan.ActionUpdateProperty,
				Target:     plan.Target{ObjectType: "contact", ObjectID: "c-1"},
				Reversible: true,
				Status:     ActionSuccess,
				RollbackData: &RollbackData{
					ObjectType:    "contact",
					ObjectID:      "c-1",
					Property:      "email",
					OriginalValue: "old@x.com",
				},
			},
		},
	}
}

func TestSaveLoad(t *testing.T) {
	t.Run("round trip preserves the record", func(t *testing.T) {
		s := newTestStore(t)
		rec := testRecord("exec-1", time.Now().UTC().Truncate(time.Second))

		if err := s.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := s.Load("exec-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.ID != rec.ID || loaded.PlanID != rec.PlanID {
			t.Errorf("loaded = %+v", loaded)
		}
		if len(loaded.Actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(loaded.Actions))
		}
		if loaded.Actions[0].RollbackData == nil ||
			loaded.Actions[0].RollbackData.OriginalValue != "old@x.com" {
			t.Errorf("rollback data lost: %+v", loaded.Actions[0].RollbackData)
		}
	})

	t.Run("save overwrites an existing record", func(t *testing.T) {
		s := newTestStore(t)
		rec := testRecord("exec-1", time.Now())
		if err := s.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		now := time.Now()
		rec.RolledBackAt = &now
		if err := s.Save(rec); err != nil {
			t.Fatalf("second Save failed: %v", err)
		}

		loaded, err := s.Load("exec-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.RolledBackAt == nil {
			t.Error("rolled_back_at stamp lost on overwrite")
		}
	})

	t.Run("missing record returns ErrNotFound", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Load("exec-nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("no temp files remain after save", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.Save(testRecord("exec-1", time.Now())); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".tmp" {
				t.Errorf("leftover temp file %s", e.Name())
			}
		}
	})
}

func TestList(t *testing.T) {
	t.Run("returns records newest first", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Now()
		for i, id := range []string{"exec-old", "exec-mid", "exec-new"} {
			if err := s.Save(testRecord(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("Save %s failed: %v", id, err)
			}
		}

		records, err := s.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected 3 records, got %d", len(records))
		}
		want := []string{"exec-new", "exec-mid", "exec-old"}
		for i, rec := range records {
			if rec.ID != want[i] {
				t.Errorf("records[%d] = %s, want %s", i, rec.ID, want[i])
			}
		}
	})

	t.Run("skips unparseable files", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.Save(testRecord("exec-1", time.Now())); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(s.dir, "garbage.json"), []byte("{"), 0640); err != nil {
			t.Fatalf("writing garbage: %v", err)
		}

		records, err := s.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) != 1 || records[0].ID != "exec-1" {
			t.Errorf("records = %+v", records)
		}
	})

	t.Run("empty store lists nothing", func(t *testing.T) {
		s := newTestStore(t)
		records, err := s.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected empty list, got %d", len(records))
		}
	})
}

func TestCleanup(t *testing.T) {
	t.Run("removes records older than retention", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.Save(testRecord("exec-old", time.Now().AddDate(0, 0, -10))); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := s.Save(testRecord("exec-new", time.Now())); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		removed, err := s.Cleanup(7, 0)
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		if _, err := s.Load("exec-old"); !errors.Is(err, ErrNotFound) {
			t.Error("old record should be gone")
		}
		if _, err := s.Load("exec-new"); err != nil {
			t.Errorf("new record should survive: %v", err)
		}
	})

	t.Run("removes oldest records over the size cap", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Now()
		for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
			if err := s.Save(testRecord(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("Save %s failed: %v", id, err)
			}
		}

		info, err := os.Stat(s.path("exec-c"))
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		// Room for roughly one record: the two oldest must go.
		removed, err := s.Cleanup(0, info.Size()+10)
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		if removed != 2 {
			t.Errorf("removed = %d, want 2", removed)
		}
		if _, err := s.Load("exec-c"); err != nil {
			t.Errorf("newest record should survive: %v", err)
		}
	})

	t.Run("zero thresholds disable cleanup", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.Save(testRecord("exec-old", time.Now().AddDate(-1, 0, 0))); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		removed, err := s.Cleanup(0, 0)
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		if removed != 0 {
			t.Errorf("removed = %d, want 0", removed)
		}
	})
}

func TestStatusTerminal(t *testing.T) {
	for _, tt := range []struct {
		status Status
		want   bool
	}{
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusPartiallyCompleted, true},
		{StatusFailed, true},
	} {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
