// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Keyhole-host is the network-facing host daemon. It accepts remote
// connections, validates each session hello against the persisted user
// records, and runs one session supervisor per admitted connection.
// Supervisors bind each connection to an isolated keyhole-session
// worker process over a private Unix-socket channel and track console
// session switches.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/keyhole-remote/keyhole/console"
	"github.com/keyhole-remote/keyhole/host"
	"github.com/keyhole-remote/keyhole/lib/binhash"
	"github.com/keyhole-remote/keyhole/lib/clock"
	"github.com/keyhole-remote/keyhole/lib/config"
	"github.com/keyhole-remote/keyhole/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		listenAddress string
		debug         bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the host configuration file (YAML)")
	pflag.StringVar(&listenAddress, "listen", "", "listen address override (e.g., :8050)")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	configuration := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		configuration = loaded
	}
	if listenAddress != "" {
		configuration.ListenAddress = listenAddress
	}

	workerBinary, err := resolveWorkerBinary(configuration.WorkerBinary)
	if err != nil {
		return err
	}
	digest, err := binhash.HashFile(workerBinary)
	if err != nil {
		return fmt.Errorf("worker binary unusable: %w", err)
	}
	logger.Info("worker binary verified",
		"path", workerBinary,
		"sha256", binhash.FormatDigest(digest))

	if err := os.MkdirAll(configuration.RunDir, 0o755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	users, err := loadUsers(configuration.UserFile, logger)
	if err != nil {
		return err
	}
	defer users.Wipe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := host.NewRegistry(host.Config{
		Users:         users,
		Console:       newConsoleMonitor(logger),
		RunDir:        configuration.RunDir,
		WorkerPath:    workerBinary,
		AttachTimeout: configuration.AttachTimeout,
		Clock:         clock.Real(),
		Logger:        logger,
	})

	listener, err := net.Listen("tcp", configuration.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", configuration.ListenAddress, err)
	}
	logger.Info("host listening",
		"address", listener.Addr().String(),
		"users", users.Len())

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		listener.Close()
	}()

	registry.Serve(listener)
	registry.Close()
	return nil
}

// resolveWorkerBinary returns the configured worker path, or the
// keyhole-session binary installed next to the host binary when the
// configuration leaves it unset.
func resolveWorkerBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating host binary: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "keyhole-session"), nil
}

// loadUsers reads the persisted user list. A missing file yields an
// empty list: the host starts and serves, rejecting every admission,
// so a fresh install is diagnosable over the wire instead of dying on
// boot.
func loadUsers(path string, logger *slog.Logger) (*user.List, error) {
	users, err := user.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("no user file, all admissions will be rejected", "path", path)
			return &user.List{}, nil
		}
		return nil, err
	}
	logger.Info("user records loaded", "path", path, "count", users.Len())
	return users, nil
}

// newConsoleMonitor prefers the kernel's VT state; hosts without
// virtual terminals (containers, headless servers) get a static
// single-session monitor.
func newConsoleMonitor(logger *slog.Logger) console.Monitor {
	monitor := console.NewVTMonitor(clock.Real(), 0, logger)
	if _, err := monitor.ActiveSession(); err != nil {
		logger.Warn("virtual terminal state unavailable, assuming a single console session", "error", err)
		return &console.StaticMonitor{SessionID: 1}
	}
	return monitor
}
