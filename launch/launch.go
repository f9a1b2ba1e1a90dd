// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Account selects the credentials a worker process runs under.
type Account int

const (
	// AccountSystem runs the worker with the host's own credentials.
	// Desktop sessions need this for capture and injection.
	AccountSystem Account = iota

	// AccountUser de-escalates the worker to the console session's
	// owner. File-transfer sessions run this way so filesystem access
	// carries the user's own permissions.
	AccountUser
)

// String returns the account's log token.
func (a Account) String() string {
	switch a {
	case AccountSystem:
		return "system"
	case AccountUser:
		return "user"
	default:
		return fmt.Sprintf("account(%d)", int(a))
	}
}

// Handlers receives process lifecycle notifications. Errored is fired
// for spawn failures; Finished is fired exactly once for any exit,
// including a Kill. Callbacks run on the launcher's wait goroutine.
type Handlers struct {
	Errored  func(err error)
	Finished func()
}

// sessionOwner resolves the uid/gid owning a console session. The
// default implementation stats the session's terminal device; tests
// inject a fake.
type sessionOwner func(sessionID uint32) (uid, gid uint32, err error)

func ttySessionOwner(sessionID uint32) (uid, gid uint32, err error) {
	var stat unix.Stat_t
	device := fmt.Sprintf("/dev/tty%d", sessionID)
	if err := unix.Stat(device, &stat); err != nil {
		return 0, 0, fmt.Errorf("resolving owner of %s: %w", device, err)
	}
	return stat.Uid, stat.Gid, nil
}

// Process launches one worker bound to a console session. Configure
// the exported fields, then call Start once. Kill may be called at any
// time, from any state, any number of times.
type Process struct {
	// Account is the credential class the worker runs under.
	Account Account

	// SessionID is the console session the worker must attach to.
	SessionID uint32

	// Path is the worker executable.
	Path string

	// Args is the worker argument list (not including Path).
	Args []string

	Logger *slog.Logger

	// resolveOwner is ttySessionOwner unless a test injects a fake.
	resolveOwner sessionOwner

	mu      sync.Mutex
	command *exec.Cmd
	started bool
}

// Start spawns the worker and begins observing it. Spawn failures are
// reported through handlers.Errored; every exit after a successful
// spawn is reported through handlers.Finished.
func (p *Process) Start(handlers Handlers) {
	go p.run(handlers)
}

func (p *Process) run(handlers Handlers) {
	command := exec.Command(p.Path, p.Args...)
	command.Stderr = os.Stderr
	command.Env = append(os.Environ(), fmt.Sprintf("KEYHOLE_SESSION_ID=%d", p.SessionID))

	attributes := &syscall.SysProcAttr{
		// Own process group, so Kill reaps the worker's children too.
		Setsid: true,
		// The worker must not outlive the host.
		Pdeathsig: syscall.SIGKILL,
	}

	if p.Account == AccountUser {
		resolve := p.resolveOwner
		if resolve == nil {
			resolve = ttySessionOwner
		}
		uid, gid, err := resolve(p.SessionID)
		if err != nil {
			p.reportError(handlers, fmt.Errorf("resolving session account: %w", err))
			return
		}
		attributes.Credential = &syscall.Credential{Uid: uid, Gid: gid}
	}
	command.SysProcAttr = attributes

	if err := command.Start(); err != nil {
		p.reportError(handlers, fmt.Errorf("starting worker %s: %w", p.Path, err))
		return
	}

	p.mu.Lock()
	p.command = command
	p.started = true
	p.mu.Unlock()

	if p.Logger != nil {
		p.Logger.Info("worker started",
			"pid", command.Process.Pid,
			"session_id", p.SessionID,
			"account", p.Account.String())
	}

	err := command.Wait()
	if p.Logger != nil && err != nil {
		p.Logger.Debug("worker exited", "pid", command.Process.Pid, "error", err)
	}
	if handlers.Finished != nil {
		handlers.Finished()
	}
}

func (p *Process) reportError(handlers Handlers, err error) {
	if p.Logger != nil {
		p.Logger.Error("worker launch failed", "error", err)
	}
	if handlers.Errored != nil {
		handlers.Errored(err)
	}
}

// Kill forcefully terminates the worker's process group with SIGKILL.
// Idempotent; safe to call before Start has spawned anything or after
// the worker has already exited.
func (p *Process) Kill() {
	p.mu.Lock()
	command := p.command
	started := p.started
	p.mu.Unlock()

	if !started || command == nil || command.Process == nil {
		return
	}

	// Negative pid: the whole process group created by Setsid.
	// ESRCH means the group is already gone.
	_ = unix.Kill(-command.Process.Pid, unix.SIGKILL)
}
