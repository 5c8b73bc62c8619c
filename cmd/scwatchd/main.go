// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-smartcard/internal/config"
	"github.com/jeremyhahn/go-smartcard/internal/daemon"
	"github.com/jeremyhahn/go-smartcard/pkg/logging"
)

const defaultConfigPath = "/etc/scwatchd/config.yaml"

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("scwatchd reader watcher\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	// Check for config file override via environment
	if envConfig := os.Getenv("SCWATCHD_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	slog.Info("Starting scwatchd",
		"config", *configPath,
		"version", version)

	// Load configuration; a missing file at the stock path falls back
	// to defaults so the daemon runs without any setup.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Configuration loaded successfully",
		"poll_interval", cfg.Watch.Interval().String(),
		"probe", cfg.Probe.Enabled,
		"applet", cfg.Probe.Applet)

	logger := logging.NewLogger(cfg.Debug())
	d := daemon.New(cfg, logger)

	// Setup signal handler for graceful shutdown
	shutdownCtx := daemon.SetupSignalHandler()

	// Start watching readers
	if err := d.Start(); err != nil {
		slog.Error("Failed to start watcher", slog.Any("error", err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	<-shutdownCtx.Done()

	// Gracefully shutdown
	if err := d.Shutdown(); err != nil {
		slog.Error("Error during shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Watcher stopped successfully")
}

func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
