// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no record exists for an execution id.
var ErrNotFound = errors.New("execution record not found")

// Store persists execution records as one JSON file per execution under
// <dir>/executions/.
//
// # Thread Safety
//
// Safe for concurrent use; writes are atomic (temp file + rename) so a
// crash never leaves a half-written record.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a Store rooted at outputDir, creating the executions
// directory if needed.
func New(outputDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(outputDir, "executions")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating executions directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save writes the record to <dir>/executions/<id>.json atomically.
func (s *Store) Save(rec *ExecutionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding execution record %s: %w", rec.ID, err)
	}

	final := s.path(rec.ID)
	tmp, err := os.CreateTemp(s.dir, "."+rec.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing execution record %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing execution record %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming execution record %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads the record for the given execution id.
func (s *Store) Load(executionID string) (*ExecutionRecord, error) {
	data, err := os.ReadFile(s.path(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("reading execution record %s: %w", executionID, err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing execution record %s: %w", executionID, err)
	}
	return &rec, nil
}

// List returns all persisted records, newest first. Unparseable files are
// logged and skipped rather than failing the listing.
func (s *Store) List() ([]*ExecutionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading executions directory: %w", err)
	}

	records := make([]*ExecutionRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		rec, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable execution record",
				"file", entry.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

// Cleanup deletes the oldest execution records once age or aggregate
// storage thresholds are exceeded.
//
// # Description
//
// Records older than retentionDays are always removed. If the remaining
// records still occupy more than maxSizeBytes on disk, the oldest are
// removed until the total fits. A zero retentionDays disables the age
// check; a zero maxSizeBytes disables the size check.
//
// # Outputs
//
//   - int: Number of records deleted.
//   - error: Non-nil on directory or delete failure.
func (s *Store) Cleanup(retentionDays int, maxSizeBytes int64) (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	// records are newest first; walk from the oldest end.
	kept := make([]*ExecutionRecord, 0, len(records))
	for _, rec := range records {
		if retentionDays > 0 && rec.StartedAt.Before(cutoff) {
			if err := s.remove(rec.ID); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		kept = append(kept, rec)
	}

	if maxSizeBytes > 0 {
		total, sizes, err := s.totalSize(kept)
		if err != nil {
			return removed, err
		}
		for i := len(kept) - 1; i >= 0 && total > maxSizeBytes; i-- {
			if err := s.remove(kept[i].ID); err != nil {
				return removed, err
			}
			total -= sizes[kept[i].ID]
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("cleaned up execution records", "removed", removed)
	}
	return removed, nil
}

func (s *Store) remove(executionID string) error {
	if err := os.Remove(s.path(executionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing execution record %s: %w", executionID, err)
	}
	return nil
}

func (s *Store) totalSize(records []*ExecutionRecord) (int64, map[string]int64, error) {
	var total int64
	sizes := make(map[string]int64, len(records))
	for _, rec := range records {
		info, err := os.Stat(s.path(rec.ID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, nil, fmt.Errorf("sizing execution record %s: %w", rec.ID, err)
		}
		sizes[rec.ID] = info.Size()
		total += info.Size()
	}
	return total, sizes, nil
}

func (s *Store) path(executionID string) string {
	return filepath.Join(s.dir, executionID+".json")
}
