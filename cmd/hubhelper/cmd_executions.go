// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// =============================================================================
// EXECUTIONS COMMAND GROUP
// =============================================================================

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect and manage stored execution records",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored execution records, newest first",
	RunE:  runExecutionsListCommand,
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Print one execution record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionsShowCommand,
}

var executionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old execution records per the retention config",
	RunE:  runExecutionsCleanupCommand,
}

func init() {
	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsShowCmd)
	executionsCmd.AddCommand(executionsCleanupCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runExecutionsListCommand(cmd *cobra.Command, args []string) error {
	svc, err := newInspectionService()
	if err != nil {
		return err
	}
	defer svc.Close()

	records, err := svc.ListExecutions()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No execution records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tOK\tFAILED\tSKIPPED\tROLLED BACK")
	for _, rec := range records {
		rolledBack := "-"
		if rec.RolledBackAt != nil {
			rolledBack = formatTimestamp(*rec.RolledBackAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			rec.ID, formatTimestamp(rec.StartedAt), rec.Status,
			rec.Counts.Successful, rec.Counts.Failed, rec.Counts.Skipped,
			rolledBack)
	}
	return w.Flush()
}

func runExecutionsShowCommand(cmd *cobra.Command, args []string) error {
	svc, err := newInspectionService()
	if err != nil {
		return err
	}
	defer svc.Close()

	rec, err := svc.Execution(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runExecutionsCleanupCommand(cmd *cobra.Command, args []string) error {
	svc, err := newInspectionService()
	if err != nil {
		return err
	}
	defer svc.Close()

	removed, err := svc.Cleanup(cfg.Retention.Days, cfg.Retention.MaxSizeMB*1024*1024)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d execution records.\n", removed)
	return nil
}
