// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chatserver starts the quota-gated chat HTTP server.
//
// Configuration is read from $CHAT_CONFIG (default ./config.yaml), then
// from .env and the environment. See orchestrator.LoadConfig for the keys.
//
// # Usage
//
//	# Build
//	go build -o chatserver ./cmd/chatserver
//
//	# Run with a local JWT secret and SQLite
//	CHAT_JWT_SECRET=dev OPENAI_API_KEY=sk-... ./chatserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianChat/pkg/logging"
	"github.com/AleutianAI/AleutianChat/services/orchestrator"
)

func main() {
	cfg, err := orchestrator.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "chatserver",
		JSON:    cfg.Log.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Default extension options come from the config; embedding programs
	// pass their own ServiceOptions here.
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator error", "error", err)
		os.Exit(1)
	}
	slog.Info("Orchestrator stopped")
}
