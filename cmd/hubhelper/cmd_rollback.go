// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROLLBACK COMMAND
// =============================================================================

var rollbackCmd = &cobra.Command{
	Use:   "rollback <execution-id>",
	Short: "Reverse a past execution's reversible actions",
	Long: `Reverses the successful reversible actions of a stored execution,
newest action first, using the pre-mutation values captured during the
original run.

Rollback is best-effort: steps that fail are reported but do not stop
the remaining steps. An execution can be rolled back at most once.

Examples:
  hubhelper rollback exec-1a2b3c4d5e6f`,
	Args: cobra.ExactArgs(1),
	RunE: runRollbackCommand,
}

var canRollbackCmd = &cobra.Command{
	Use:   "can-rollback <execution-id>",
	Short: "Check whether an execution can be rolled back",
	Long: `Inspects a stored execution record and reports how many of its
actions could be reversed, without mutating anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runCanRollbackCommand,
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runRollbackCommand(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.Rollback(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Rolled back:     %d\n", result.RolledBack)
	fmt.Printf("Failed:          %d\n", result.Failed)
	fmt.Printf("Non-reversible:  %d\n", result.NonReversible)
	for _, e := range result.Errors {
		fmt.Printf("  FAILED %s: %s\n", e.ActionID, e.Error)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d rollback steps failed", result.Failed)
	}
	return nil
}

func runCanRollbackCommand(cmd *cobra.Command, args []string) error {
	svc, err := newInspectionService()
	if err != nil {
		return err
	}
	defer svc.Close()

	pf, err := svc.CanRollback(args[0])
	if err != nil {
		return err
	}

	if pf.CanRollback {
		fmt.Printf("Execution %s can be rolled back: %d reversible, %d non-reversible\n",
			args[0], pf.ReversibleCount, pf.NonReversibleCount)
		return nil
	}
	fmt.Printf("Execution %s cannot be rolled back: %s\n", args[0], pf.Reason)
	return nil
}
