// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	} {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	for _, tt := range []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	} {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("writes json entries to the log file", func(t *testing.T) {
		dir := t.TempDir()
		logger, closeFn := New(Config{
			Level:   LevelInfo,
			LogDir:  dir,
			Service: "testsvc",
			Quiet:   true,
		})

		logger.Info("execution started", "plan", "audit-1")
		if err := closeFn(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("log file missing: %v", err)
		}

		var entry map[string]any
		line := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if entry["msg"] != "execution started" {
			t.Errorf("msg = %v", entry["msg"])
		}
		if entry["service"] != "testsvc" {
			t.Errorf("service = %v", entry["service"])
		}
		if entry["plan"] != "audit-1" {
			t.Errorf("plan = %v", entry["plan"])
		}
	})

	t.Run("level filter drops lower severities", func(t *testing.T) {
		dir := t.TempDir()
		logger, closeFn := New(Config{
			Level:   LevelWarn,
			LogDir:  dir,
			Service: "testsvc",
			Quiet:   true,
		})

		logger.Info("should be dropped")
		logger.Warn("should be kept")
		if err := closeFn(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("log file missing: %v", err)
		}
		if strings.Contains(string(data), "should be dropped") {
			t.Error("info entry written despite warn level")
		}
		if !strings.Contains(string(data), "should be kept") {
			t.Error("warn entry missing")
		}
	})

	t.Run("close is a no-op without a log file", func(t *testing.T) {
		logger, closeFn := New(Config{Quiet: true})
		logger.Info("nowhere to go")
		if err := closeFn(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	})
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default returned nil")
	}
	logger.Info("smoke")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
