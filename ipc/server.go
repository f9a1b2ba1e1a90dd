// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/keyhole-remote/keyhole/transport"
)

// ServerHandlers receives server lifecycle notifications. Callbacks
// are invoked from the server's accept goroutine.
type ServerHandlers struct {
	// Started reports that the server is listening and the worker may
	// be launched with this channel id.
	Started func(channelID string)

	// NewConnection delivers the single accepted worker channel. The
	// receiver takes ownership of the channel; the server itself is
	// finished after this call.
	NewConnection func(channel transport.Channel)

	// Error reports a bind or accept failure. Fatal to the current
	// attach attempt.
	Error func(err error)
}

// Server is a single-use, single-client IPC listener. It accepts the
// first worker connection on its channel socket and then shuts down.
type Server struct {
	runDir    string
	channelID string
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a server with a fresh channel id under runDir.
func NewServer(runDir string, logger *slog.Logger) (*Server, error) {
	channelID, err := NewChannelID()
	if err != nil {
		return nil, err
	}
	return &Server{
		runDir:    runDir,
		channelID: channelID,
		logger:    logger,
	}, nil
}

// ChannelID returns the server's rendezvous id.
func (s *Server) ChannelID() string { return s.channelID }

// Start binds the channel socket and begins the accept sequence in a
// goroutine. Exactly one of the handler outcomes follows: Started then
// NewConnection, Started then Error, or Error alone.
func (s *Server) Start(handlers ServerHandlers) {
	go s.run(handlers)
}

func (s *Server) run(handlers ServerHandlers) {
	socketPath := SocketPath(s.runDir, s.channelID)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		if handlers.Error != nil {
			handlers.Error(fmt.Errorf("binding IPC socket: %w", err))
		}
		return
	}

	// The worker may run under a less-privileged account than the
	// host. The unguessable channel id is the rendezvous secret, so
	// the socket itself is openable by any local account — matching
	// the named-object scheme this replaces.
	if err := os.Chmod(socketPath, 0o666); err != nil {
		listener.Close()
		os.Remove(socketPath)
		if handlers.Error != nil {
			handlers.Error(fmt.Errorf("setting IPC socket mode: %w", err))
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		os.Remove(socketPath)
		return
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Debug("IPC server listening", "channel_id", s.channelID)
	if handlers.Started != nil {
		handlers.Started(s.channelID)
	}

	conn, err := listener.Accept()

	// Single-use: whatever happened, stop listening and unlink the
	// socket before reporting, so no second client can rendezvous.
	listener.Close()
	os.Remove(socketPath)

	if err != nil {
		s.mu.Lock()
		wasClosed := s.closed
		s.mu.Unlock()
		if wasClosed {
			return
		}
		if handlers.Error != nil {
			handlers.Error(fmt.Errorf("accepting IPC connection: %w", err))
		}
		return
	}

	if handlers.NewConnection != nil {
		handlers.NewConnection(transport.NewConn(conn))
	} else {
		conn.Close()
	}
}

// Close aborts a pending accept. Idempotent; a close-initiated accept
// failure is not reported through Handlers.Error.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
		os.Remove(SocketPath(s.runDir, s.channelID))
	}
}

// Dial connects to a supervisor's channel socket from the worker side.
func Dial(runDir, channelID string) (*transport.Conn, error) {
	conn, err := net.Dial("unix", SocketPath(runDir, channelID))
	if err != nil {
		return nil, fmt.Errorf("dialing IPC channel %s: %w", channelID, err)
	}
	return transport.NewConn(conn), nil
}
