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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSONOutput bool

// statusCmd shows the gateway's current state.
//
// # Examples
//
//	ledgerctl status          # Human-readable summary
//	ledgerctl status --json   # JSON output for scripting
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway online state, queue depth, and active version",
	Run:   runStatusCommand,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output as JSON for scripting")
}

type gatewayStatus struct {
	Online          bool   `json:"online"`
	QueueDepth      int    `json:"queue_depth"`
	ActiveVersion   string `json:"active_version"`
	UpdateAvailable bool   `json:"update_available"`
	WaitingVersion  string `json:"waiting_version"`
	ConnectedViews  int    `json:"connected_views"`
}

func runStatusCommand(cmd *cobra.Command, args []string) {
	var status gatewayStatus
	if err := callGateway("GET", "/sync/v1/status", nil, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
		os.Exit(1)
	}

	if statusJSONOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	state := "OFFLINE"
	if status.Online {
		state = "ONLINE"
	}
	fmt.Printf("State:           %s\n", state)
	fmt.Printf("Active version:  %s\n", status.ActiveVersion)
	fmt.Printf("Pending queue:   %d\n", status.QueueDepth)
	fmt.Printf("Connected views: %d\n", status.ConnectedViews)
	if status.UpdateAvailable {
		fmt.Printf("Update waiting:  %s (run 'ledgerctl update apply')\n", status.WaitingVersion)
	}
}
