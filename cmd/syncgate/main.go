// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command syncgate starts the LedgerLocal sync gateway daemon.
//
// The daemon sits between the finance app's views and the remote
// backend: it serves cached responses while offline, queues mutations
// durably, and replays them when connectivity returns.
//
// # Environment Variables
//
//   - SYNCGATE_PORT: HTTP listen port (default: 12310)
//   - SYNCGATE_UPSTREAM_URL: Finance backend base URL (required)
//   - SYNCGATE_DATA_DIR: BadgerDB directory (default: ~/.ledgerlocal/data)
//   - SYNCGATE_MANIFEST: Cache manifest YAML path (default: ./precache-manifest.yaml)
//   - SYNCGATE_LOG_LEVEL: debug, info, warn, error (default: info)
//   - SYNCGATE_LOG_DIR: Log file directory (optional)
//
// # Usage
//
//	# Build
//	go build -o syncgate ./cmd/syncgate
//
//	# Run
//	SYNCGATE_UPSTREAM_URL=https://ledger.example.com ./syncgate
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jinterlante1206/LedgerLocal/pkg/logging"
	"github.com/jinterlante1206/LedgerLocal/services/gateway"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(getEnvString("SYNCGATE_LOG_LEVEL", "info")),
		LogDir:  os.Getenv("SYNCGATE_LOG_DIR"),
		Service: "syncgate",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := gateway.Config{
		Port:         getEnvInt("SYNCGATE_PORT", 12310),
		UpstreamURL:  os.Getenv("SYNCGATE_UPSTREAM_URL"),
		DataDir:      getEnvString("SYNCGATE_DATA_DIR", defaultDataDir()),
		ManifestPath: getEnvString("SYNCGATE_MANIFEST", "precache-manifest.yaml"),
	}

	if cfg.UpstreamURL == "" {
		log.Fatal("SYNCGATE_UPSTREAM_URL is required")
	}

	slog.Info("Starting sync gateway",
		"port", cfg.Port,
		"upstream", cfg.UpstreamURL,
		"data_dir", cfg.DataDir,
		"manifest", cfg.ManifestPath,
	)

	svc, err := gateway.New(cfg, logger.Slog())
	if err != nil {
		log.Fatalf("Failed to create sync gateway: %v", err)
	}

	// Shut down cleanly on SIGINT/SIGTERM so the badger store closes
	// with its value log intact.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("Shutting down sync gateway")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := svc.Run(); err != nil {
		log.Fatalf("Sync gateway error: %v", err)
	}
}

// defaultDataDir places the store under the user's home, falling back
// to the working directory when home cannot be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledgerlocal/data"
	}
	return home + "/.ledgerlocal/data"
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
