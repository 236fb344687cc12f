// relayd - sync relay and asset cache daemon for polychat peers.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/polychat/internal/config"
	"github.com/jeranaias/polychat/internal/logging"
	"github.com/jeranaias/polychat/internal/relay"
)

func main() {
	var (
		addr     = flag.String("addr", "", "listen address (overrides config)")
		upstream = flag.String("upstream", "", "asset origin to proxy (overrides config)")
		version  = flag.String("cache-version", "", "cache generation to activate (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	if *upstream != "" {
		cfg.Relay.Upstream = *upstream
	}
	if *version != "" {
		cfg.Relay.CacheVersion = *version
	}

	logger, closeLog := logging.Setup(cfg.Logging.File, cfg.LogLevel())
	defer closeLog()

	server, err := relay.NewServer(relay.Options{
		Addr:         cfg.Relay.Addr,
		CacheDir:     cfg.CacheDir(),
		CacheVersion: cfg.Relay.CacheVersion,
		Upstream:     cfg.Relay.Upstream,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("relay setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("relay exited", "error", err)
		os.Exit(1)
	}
}
