// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Keyhole-session is the per-session worker process. The host launches
// one for every attach attempt, handing it a private channel id on the
// command line; the worker dials the channel socket back to its
// supervisor and serves the session from inside the console session it
// was bound to.
//
// This binary carries the session plumbing only. The capture and input
// backends plug into the pump; until they are wired, received messages
// are drained and logged so the relay and lifecycle machinery can be
// exercised end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/keyhole-remote/keyhole/ipc"
	"github.com/keyhole-remote/keyhole/lib/config"
	"github.com/keyhole-remote/keyhole/session"
	"github.com/keyhole-remote/keyhole/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		channelID   string
		sessionType string
		runDir      string
		debug       bool
	)
	pflag.StringVar(&channelID, "channel_id", "", "rendezvous channel id from the supervisor (required)")
	pflag.StringVar(&sessionType, "session_type", "", "session type token (required)")
	pflag.StringVar(&runDir, "run_dir", config.DefaultRunDir, "runtime directory holding channel sockets")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if channelID == "" {
		return fmt.Errorf("--channel_id is required")
	}
	kind, err := session.ParseKind(sessionType)
	if err != nil {
		return err
	}

	sessionID, err := strconv.ParseUint(os.Getenv("KEYHOLE_SESSION_ID"), 10, 32)
	if err != nil {
		return fmt.Errorf("parsing KEYHOLE_SESSION_ID: %w", err)
	}
	logger = logger.With(
		"session_kind", kind.Token(),
		"console_session", uint32(sessionID))

	channel, err := ipc.Dial(runDir, channelID)
	if err != nil {
		return err
	}
	logger.Info("connected to supervisor", "channel_id", channelID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	disconnected := make(chan struct{})
	channel.Start(transport.Handlers{
		MessageReceived: func(payload []byte) {
			// Backend dispatch goes here. Drain and keep reading.
			logger.Debug("message received", "bytes", len(payload))
			channel.ReadMessage()
		},
		MessageWritten: func(messageID int) {
			logger.Debug("message delivered", "message_id", messageID)
		},
		Disconnected: func() {
			close(disconnected)
		},
	})
	channel.ReadMessage()

	select {
	case <-ctx.Done():
		logger.Info("terminating on signal")
		channel.Close()
	case <-disconnected:
		logger.Info("supervisor channel closed, exiting")
	}
	return nil
}
