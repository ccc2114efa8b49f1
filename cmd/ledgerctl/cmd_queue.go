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
	"time"

	"github.com/spf13/cobra"
)

var queueJSONOutput bool

var (
	queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the pending mutation queue",
	}
	queueListCmd = &cobra.Command{
		Use:   "list",
		Short: "List pending mutations in replay order",
		Run:   runQueueList,
	}
	queueRemoveCmd = &cobra.Command{
		Use:   "remove [item-id]",
		Short: "Remove one pending mutation by id",
		Args:  cobra.ExactArgs(1),
		Run:   runQueueRemove,
	}
	queueClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove all pending mutations",
		Run:   runQueueClear,
	}
)

func init() {
	queueListCmd.Flags().BoolVar(&queueJSONOutput, "json", false,
		"Output as JSON for scripting")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueClearCmd)
}

type queueItem struct {
	ID           string          `json:"id"`
	ResourceType string          `json:"resource_type"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	Attempts     int             `json:"attempts"`
	Dead         bool            `json:"dead,omitempty"`
}

type queueListResponse struct {
	Items  []queueItem `json:"items"`
	Source string      `json:"source"`
}

func runQueueList(cmd *cobra.Command, args []string) {
	var resp queueListResponse
	if err := callGateway("GET", "/sync/v1/queue", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Queue list failed: %v\n", err)
		os.Exit(1)
	}

	if queueJSONOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(resp.Items) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	if resp.Source == "view" {
		fmt.Println("(store unreadable, showing a connected view's snapshot)")
	}
	for i, item := range resp.Items {
		marker := " "
		if item.Dead {
			marker = "!"
		}
		fmt.Printf("%s %3d. %-12s %-7s id=%s enqueued=%s attempts=%d\n",
			marker, i+1, item.ResourceType, item.Action, item.ID,
			item.EnqueuedAt.Format(time.RFC3339), item.Attempts)
	}
}

func runQueueRemove(cmd *cobra.Command, args []string) {
	if err := callGateway("DELETE", "/sync/v1/queue/"+args[0], nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Queue remove failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %s\n", args[0])
}

func runQueueClear(cmd *cobra.Command, args []string) {
	if err := callGateway("DELETE", "/sync/v1/queue", nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Queue clear failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Queue cleared.")
}
