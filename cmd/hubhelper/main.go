// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// hubhelper audits and remediates records in a remote customer-data
// platform by executing approved corrective action plans.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/austin-cc-code/hubspot-helper/cmd/hubhelper/config"
	"github.com/austin-cc-code/hubspot-helper/pkg/logging"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	cfg      *config.Config
	logger   = logging.Default()
	logClose = func() error { return nil }

	flagConfigPath string
	flagQuiet      bool
	flagTelemetry  bool
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "hubhelper",
	Short: "Execute and roll back remediation plans against a customer-data platform",
	Long: `hubhelper executes approved remediation plans: ordered lists of
corrective actions (property updates, deletions, list removals, merges)
against records in a remote customer-data platform.

Every run is rate limited, guarded by a per-account execution lock, and
persisted as an execution record that supports later rollback.

Examples:
  hubhelper execute plan.json              # Run a plan
  hubhelper execute plan.json --dry-run    # Validate without mutating
  hubhelper rollback exec-1a2b3c4d5e6f     # Reverse a past run
  hubhelper executions list                # List stored records
  hubhelper lock status                    # Inspect the execution lock`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, logClose = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.LogLevel),
			LogDir:  cfg.LogDir,
			Service: "hubhelper",
			Quiet:   flagQuiet,
		})

		if flagTelemetry {
			if err := setupTelemetry(cmd.Context()); err != nil {
				logger.Warn("telemetry setup failed, continuing without it", "error", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		shutdownTelemetry(cmd.Context())
		return logClose()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"Path to the config file (default ~/.hubhelper/hubhelper.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false,
		"Suppress log output on stderr")
	rootCmd.PersistentFlags().BoolVar(&flagTelemetry, "telemetry", false,
		"Emit OpenTelemetry traces and metrics to stdout")

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(canRollbackCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(lockCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
