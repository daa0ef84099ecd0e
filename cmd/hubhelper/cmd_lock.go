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
// LOCK COMMAND GROUP
// =============================================================================

var lockReleaseForce bool

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage the execution lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an execution lock is currently held",
	RunE:  runLockStatusCommand,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Forcibly remove the execution lock",
	Long: `Removes the execution lock regardless of owner. Only use this when
the holding process is known to be dead; releasing the lock under a
live execution allows concurrent runs against the same account.`,
	RunE: runLockReleaseCommand,
}

func init() {
	lockReleaseCmd.Flags().BoolVar(&lockReleaseForce, "force", false,
		"Confirm forcible removal of the lock")
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runLockStatusCommand(cmd *cobra.Command, args []string) error {
	svc, err := newInspectionService()
	if err != nil {
		return err
	}
	defer svc.Close()

	held, rec, err := svc.LockStatus()
	if err != nil {
		return err
	}
	if !held {
		fmt.Println("No execution lock is held.")
		return nil
	}
	fmt.Printf("Lock held by execution %s (account %s)\n", rec.ExecutionID, rec.AccountID)
	fmt.Printf("  Acquired: %s\n", formatTimestamp(rec.AcquiredAt))
	fmt.Printf("  Expires:  %s\n", formatTimestamp(rec.ExpiresAt))
	return nil
}

func runLockReleaseCommand(cmd *cobra.Command, args []string) error {
	if !lockReleaseForce {
		return fmt.Errorf("refusing to release the lock without --force")
	}

	svc, err := newInspectionService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.ForceReleaseLock(); err != nil {
		return err
	}
	fmt.Println("Execution lock released.")
	return nil
}
