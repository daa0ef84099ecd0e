// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/austin-cc-code/hubspot-helper/services/remediation"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/engine"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/lock"
	"github.com/austin-cc-code/hubspot-helper/services/remediation/store"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	executeDryRun          bool // Validate and record without mutating
	executeContinueOnError bool // Keep going past a failed action
	executeJSONOutput      bool // Print the execution record as JSON
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var executeCmd = &cobra.Command{
	Use:   "execute <plan.json>",
	Short: "Execute a remediation plan",
	Long: `Loads a remediation plan, orders its actions by dependency, and
executes them against the remote platform under the account's
execution lock and rate limit.

By default the run stops at the first failed action and records the
resumption point. Reversible actions capture their pre-mutation state
so the run can be rolled back later.

Examples:
  hubhelper execute plan.json
  hubhelper execute plan.json --dry-run
  hubhelper execute plan.json --continue-on-error
  hubhelper execute plan.json --json > record.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExecuteCommand,
}

func init() {
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false,
		"Resolve and validate the plan without mutating anything")
	executeCmd.Flags().BoolVar(&executeContinueOnError, "continue-on-error", false,
		"Continue executing after an action fails")
	executeCmd.Flags().BoolVar(&executeJSONOutput, "json", false,
		"Print the full execution record as JSON")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runExecuteCommand(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	progress := func(p engine.Progress) {
		if executeJSONOutput || flagQuiet {
			return
		}
		fmt.Printf("\r[%d/%d] %s", p.Completed+p.Failed+p.Skipped, p.Total, p.CurrentAction)
	}

	rec, err := svc.ExecuteFile(cmd.Context(), args[0], remediation.ExecuteOptions{
		DryRun:          executeDryRun,
		ContinueOnError: executeContinueOnError,
	}, progress)
	if !executeJSONOutput && !flagQuiet {
		fmt.Println()
	}
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("another execution (%s) holds the lock until %s",
				held.Holder.ExecutionID, formatTimestamp(held.Holder.ExpiresAt))
		}
		return err
	}

	if executeJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	printRecordSummary(rec)
	if rec.Status == store.StatusFailed {
		return fmt.Errorf("execution %s failed", rec.ID)
	}
	return nil
}

func printRecordSummary(rec *store.ExecutionRecord) {
	fmt.Printf("Execution:  %s\n", rec.ID)
	fmt.Printf("Status:     %s\n", rec.Status)
	fmt.Printf("Started:    %s\n", formatTimestamp(rec.StartedAt))
	fmt.Printf("Completed:  %s\n", formatTimestamp(rec.CompletedAt))
	fmt.Printf("Actions:    %d ok, %d failed, %d skipped (%d non-reversible)\n",
		rec.Counts.Successful, rec.Counts.Failed, rec.Counts.Skipped,
		rec.Counts.NonReversible)
	if rec.ResumeFrom != "" {
		fmt.Printf("Resume at:  %s\n", rec.ResumeFrom)
	}
	for _, a := range rec.Actions {
		if a.Status == store.ActionFailed {
			fmt.Printf("  FAILED %s: %s\n", a.ActionID, a.Error)
		}
	}
}
