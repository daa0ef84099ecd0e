// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock serializes executions per remote account.
//
// The lock is a JSON record created with O_EXCL so that create-if-absent is
// atomic across processes sharing the same output directory. At most one
// unexpired lock exists per account; a crashed holder is bounded by the
// lock's TTL.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LockFileName is the lock record's file name inside the output directory.
const LockFileName = ".execution-lock"

// DefaultTTL bounds the damage of a crashed lock holder.
const DefaultTTL = time.Hour

// ErrHeld is the sentinel for lock contention; use errors.Is against the
// *HeldError returned by Acquire.
var ErrHeld = errors.New("execution lock held")

// Record is the persisted lock state.
type Record struct {
	AccountID   string    `json:"account_id"`
	ExecutionID string    `json:"execution_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the lock's TTL has elapsed.
func (r *Record) Expired() bool {
	return time.Now().After(r.ExpiresAt)
}

// HeldError is returned when a live lock owned by another execution exists.
// It is recoverable: the caller may retry later or inspect the holder.
type HeldError struct {
	Holder *Record
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("execution lock held by %s (account %s) until %s",
		e.Holder.ExecutionID, e.Holder.AccountID,
		e.Holder.ExpiresAt.Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// Config configures a Manager.
type Config struct {
	// Dir is the output directory holding the lock record.
	Dir string

	// TTL is how long an acquired lock lives before it is considered
	// stale. Default: DefaultTTL.
	TTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager acquires and releases the per-account execution lock.
//
// # Thread Safety
//
// Safe for concurrent use. Cross-process safety relies on exclusive file
// creation, the single atomic create-if-absent primitive through which all
// lock mutation flows.
type Manager struct {
	dir    string
	path   string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	held    *Record
	watcher *fsnotify.Watcher
}

// NewManager creates a lock manager rooted at cfg.Dir, creating the
// directory if needed. A watcher reports external tampering with a held
// lock; watcher setup failure degrades to an unwatched manager rather than
// an error.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("lock: output directory required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", cfg.Dir, err)
	}

	m := &Manager{
		dir:    cfg.Dir,
		path:   filepath.Join(cfg.Dir, LockFileName),
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cfg.Logger.Warn("lock watcher unavailable, external tamper detection disabled",
			"error", err)
		return m, nil
	}
	if err := watcher.Add(cfg.Dir); err != nil {
		cfg.Logger.Warn("lock watcher failed to watch directory",
			"dir", cfg.Dir, "error", err)
		watcher.Close()
		return m, nil
	}
	m.watcher = watcher
	go m.watchLoop()

	return m, nil
}

// Acquire takes the account lock for the given execution id.
//
// # Description
//
// Succeeds when no lock record exists or the existing one has expired (the
// stale record is removed, with a log line naming the previous holder). A
// live lock owned by another execution fails with *HeldError. The create is
// O_EXCL, so two concurrent acquires resolve to exactly one winner.
func (m *Manager) Acquire(accountID, executionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		rec, err := m.tryCreate(accountID, executionID)
		if err == nil {
			m.held = rec
			m.logger.Debug("execution lock acquired",
				"account_id", accountID,
				"execution_id", executionID,
				"expires_at", rec.ExpiresAt.Format(time.RFC3339))
			return rec, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		holder, readErr := m.read()
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue // Holder released between create and read; retry.
			}
			return nil, fmt.Errorf("reading existing lock: %w", readErr)
		}

		if !holder.Expired() {
			return nil, &HeldError{Holder: holder}
		}

		m.logger.Info("removing stale execution lock",
			"previous_execution_id", holder.ExecutionID,
			"expired_at", holder.ExpiresAt.Format(time.RFC3339))
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}

	// Lost the O_EXCL race twice in a row; report contention with
	// whatever holder is now on disk.
	if holder, err := m.read(); err == nil {
		return nil, &HeldError{Holder: holder}
	}
	return nil, fmt.Errorf("acquiring lock for account %s: %w", accountID, ErrHeld)
}

// Release removes the lock record if it is owned by executionID.
//
// Idempotent: releasing a missing lock, or one taken over by a different
// execution, is a no-op.
func (m *Manager) Release(executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, err := m.read()
	if err != nil {
		if os.IsNotExist(err) {
			m.held = nil
			return nil
		}
		return fmt.Errorf("reading lock for release: %w", err)
	}

	if holder.ExecutionID != executionID {
		m.logger.Warn("skipping release of lock owned by another execution",
			"owner", holder.ExecutionID, "releaser", executionID)
		return nil
	}

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock: %w", err)
	}
	m.held = nil
	m.logger.Debug("execution lock released", "execution_id", executionID)
	return nil
}

// ForceRelease clears the lock unconditionally. Operator recovery for a
// stuck process; normal code paths use Release.
func (m *Manager) ForceRelease() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("force releasing lock: %w", err)
	}
	m.held = nil
	m.logger.Warn("execution lock force released")
	return nil
}

// Status reports whether a live lock exists and who holds it. Expired
// records are reported as unlocked.
func (m *Manager) Status() (bool, *Record, error) {
	holder, err := m.read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if holder.Expired() {
		return false, nil, nil
	}
	return true, holder, nil
}

// Close stops the tamper watcher. It does not release a held lock; callers
// release explicitly so that a crash leaves the TTL-bounded record behind.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// tryCreate writes a fresh record with O_EXCL semantics.
func (m *Manager) tryCreate(accountID, executionID string) (*Record, error) {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &Record{
		AccountID:   accountID,
		ExecutionID: executionID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(m.ttl),
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		f.Close()
		os.Remove(m.path)
		return nil, fmt.Errorf("writing lock record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(m.path)
		return nil, fmt.Errorf("closing lock record: %w", err)
	}
	return rec, nil
}

// read loads the lock record from disk.
func (m *Manager) read() (*Record, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing lock record: %w", err)
	}
	return &rec, nil
}

// watchLoop logs external changes to a lock we believe we hold. A removed
// or rewritten lock file under a live holder means an operator or another
// process interfered; execution safety is then no longer guaranteed.
func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != LockFileName {
				continue
			}
			// Write events are not tampering: acquiring the lock writes
			// the record we hold.
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.mu.Lock()
			held := m.held
			m.mu.Unlock()
			if held == nil {
				continue
			}
			m.logger.Warn("execution lock changed externally while held",
				"execution_id", held.ExecutionID,
				"event", event.Op.String())
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("lock watcher error", "error", err)
		}
	}
}
