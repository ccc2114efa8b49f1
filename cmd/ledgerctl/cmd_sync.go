// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Replay the pending mutation queue now",
		Run:   runSyncCommand,
	}

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Check for and apply app updates",
	}
	updateCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Force an immediate upstream version check",
		Run:   runUpdateCheck,
	}
	updateApplyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Activate the waiting version and reload open views",
		Run:   runUpdateApply,
	}

	notifyTitle string
	notifyBody  string
	notifyTag   string

	notifyCmd = &cobra.Command{
		Use:   "notify",
		Short: "Dispatch a notification to connected views",
		Run:   runNotifyCommand,
	}
)

func init() {
	updateCmd.AddCommand(updateCheckCmd)
	updateCmd.AddCommand(updateApplyCmd)

	notifyCmd.Flags().StringVar(&notifyTitle, "title", "", "Notification title (required)")
	notifyCmd.Flags().StringVar(&notifyBody, "body", "", "Notification body")
	notifyCmd.Flags().StringVar(&notifyTag, "tag", "", "Replacement tag")
	notifyCmd.MarkFlagRequired("title")
}

func runSyncCommand(cmd *cobra.Command, args []string) {
	var result struct {
		Attempted   int `json:"attempted"`
		Succeeded   int `json:"succeeded"`
		Failed      int `json:"failed"`
		SkippedDead int `json:"skipped_dead"`
	}
	if err := callGateway("POST", "/sync/v1/sync", nil, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sync complete: %d attempted, %d succeeded, %d failed",
		result.Attempted, result.Succeeded, result.Failed)
	if result.SkippedDead > 0 {
		fmt.Printf(", %d dead items skipped", result.SkippedDead)
	}
	fmt.Println()
}

func runUpdateCheck(cmd *cobra.Command, args []string) {
	var result struct {
		UpdateAvailable bool   `json:"update_available"`
		WaitingVersion  string `json:"waiting_version"`
	}
	if err := callGateway("POST", "/sync/v1/update/check", nil, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Update check failed: %v\n", err)
		os.Exit(1)
	}
	if result.UpdateAvailable {
		fmt.Printf("Update available: %s (run 'ledgerctl update apply')\n", result.WaitingVersion)
	} else {
		fmt.Println("Already on the latest version.")
	}
}

func runUpdateApply(cmd *cobra.Command, args []string) {
	if err := callGateway("POST", "/sync/v1/update/apply", nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Update apply failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Update applied; open views are reloading.")
}

func runNotifyCommand(cmd *cobra.Command, args []string) {
	body := map[string]any{
		"title": notifyTitle,
		"body":  notifyBody,
		"tag":   notifyTag,
	}
	if err := callGateway("POST", "/sync/v1/notify", body, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Notify failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Notification dispatched.")
}
