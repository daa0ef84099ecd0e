// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/austin-cc-code/hubspot-helper/services/remediation"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/ratelimit"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/remote"
)

// newService assembles the remediation service from the loaded config.
// The caller must Close() it.
func newService() (*remediation.Service, error) {
	token := os.Getenv("HUBHELPER_API_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("HUBHELPER_API_TOKEN is not set")
	}

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, token, nil)

	return remediation.NewService(remediation.Config{
		Client:    client,
		OutputDir: cfg.OutputDir,
		Limiter: ratelimit.Config{
			MaxTokens:      cfg.RateLimit.MaxTokens,
			RefillInterval: cfg.RateLimit.RefillInterval,
			MaxConcurrent:  cfg.RateLimit.MaxConcurrent,
		},
		LockTTL:     cfg.Lock.TTL,
		CallTimeout: cfg.Remote.CallTimeout,
		Retry: remote.RetryConfig{
			MaxAttempts:    cfg.Remote.MaxRetries,
			InitialBackoff: cfg.Remote.InitialBackoff,
			MaxBackoff:     cfg.Remote.MaxBackoff,
			BackoffFactor:  2.0,
			JitterFactor:   0.2,
		},
		Logger: logger,
	})
}

// newInspectionService builds a service for read-only commands that
// never touch the remote API, so no token or client is required.
func newInspectionService() (*remediation.Service, error) {
	return remediation.NewService(remediation.Config{
		OutputDir: cfg.OutputDir,
		Logger:    logger,
	})
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
