// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/keyhole-remote/keyhole/console"
	"github.com/keyhole-remote/keyhole/lib/clock"
	"github.com/keyhole-remote/keyhole/session"
	"github.com/keyhole-remote/keyhole/transport"
	"github.com/keyhole-remote/keyhole/user"
)

// DefaultHelloTimeout bounds how long an accepted connection may take
// to present its session hello before being dropped.
const DefaultHelloTimeout = 10 * time.Second

// Admission failures callers may branch on with errors.Is.
var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrUserDisabled = errors.New("user disabled")
	ErrSessionLimit = errors.New("session limit reached")
	ErrClosed       = errors.New("registry closed")
)

// Config assembles a Registry.
type Config struct {
	// Users is the credential list admissions are checked against.
	// The registry reads it only; reloading is the owner's concern.
	Users *user.List

	// Console, RunDir, WorkerPath, AttachTimeout, and Clock are passed
	// through to every supervisor the registry constructs.
	Console       console.Monitor
	RunDir        string
	WorkerPath    string
	AttachTimeout time.Duration
	Clock         clock.Clock

	// HelloTimeout overrides DefaultHelloTimeout when positive.
	HelloTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// supervised is the registry's view of a running session supervisor.
type supervised interface {
	Start()
	Stop()
	Done() <-chan struct{}
}

// liveSession is one admitted connection's table entry.
type liveSession struct {
	username   string
	kind       session.Kind
	supervisor supervised
}

// Registry is the supervised-session table. Admit turns an
// authenticated connection into a running supervisor; the registry
// prunes the entry when the supervisor finishes.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	newSupervisor func(session.Config) supervised

	mu       sync.Mutex
	sessions map[*liveSession]struct{}
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*liveSession]struct{}),
		newSupervisor: func(sessionConfig session.Config) supervised {
			return session.New(sessionConfig)
		},
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveFor returns the number of live sessions for username
// (case-insensitive comparison is the caller's concern; admission
// stores the canonical record name).
func (r *Registry) ActiveFor(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeForLocked(username)
}

func (r *Registry) activeForLocked(username string) int {
	count := 0
	for entry := range r.sessions {
		if entry.username == username {
			count++
		}
	}
	return count
}

// Admit reads the session hello from conn, validates it against the
// user list, and starts a supervisor for the requested session kind.
// On any failure the connection is closed and an error returned; the
// rejection reasons above are wrapped for errors.Is.
func (r *Registry) Admit(conn net.Conn) error {
	hello, err := readHello(conn, r.cfg.HelloTimeout)
	if err != nil {
		conn.Close()
		return err
	}

	kind, err := session.ParseKind(hello.SessionType)
	if err != nil {
		conn.Close()
		return fmt.Errorf("session hello from %q: %w", hello.Username, err)
	}

	record := r.cfg.Users.Find(hello.Username)
	if record == nil {
		conn.Close()
		return fmt.Errorf("session hello: %w: %q", ErrUnknownUser, hello.Username)
	}
	if !record.Enabled() {
		conn.Close()
		return fmt.Errorf("session hello: %w: %q", ErrUserDisabled, record.Name())
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	limit := record.SessionLimit()
	if limit > 0 && uint32(r.activeForLocked(record.Name())) >= limit {
		r.mu.Unlock()
		conn.Close()
		return fmt.Errorf("user %q: %w (%d)", record.Name(), ErrSessionLimit, limit)
	}

	entry := &liveSession{username: record.Name(), kind: kind}
	logger := r.logger.With("user", entry.username, "session_kind", kind.Token())

	supervisor := r.newSupervisor(session.Config{
		Kind:          kind,
		Network:       transport.NewConn(conn),
		Console:       r.cfg.Console,
		RunDir:        r.cfg.RunDir,
		WorkerPath:    r.cfg.WorkerPath,
		AttachTimeout: r.cfg.AttachTimeout,
		Clock:         r.cfg.Clock,
		Logger:        logger,
		OnFinished:    func(*session.Supervisor) { r.remove(entry) },
	})
	entry.supervisor = supervisor
	r.sessions[entry] = struct{}{}
	r.mu.Unlock()

	logger.Info("session admitted")
	supervisor.Start()
	return nil
}

// remove prunes a finished session from the table.
func (r *Registry) remove(entry *liveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, entry)
	r.logger.Info("session pruned",
		"user", entry.username,
		"session_kind", entry.kind.Token(),
		"remaining", len(r.sessions))
}

// Serve accepts connections from listener and admits each in its own
// goroutine. Returns when the listener fails, normally because it was
// closed.
func (r *Registry) Serve(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			r.logger.Info("listener closed", "error", err)
			return
		}
		go func() {
			if err := r.Admit(conn); err != nil {
				r.logger.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Close rejects further admissions, stops every live session, and
// waits for each to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*liveSession, 0, len(r.sessions))
	for entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		entry.supervisor.Stop()
	}
	for _, entry := range entries {
		<-entry.supervisor.Done()
	}
}
