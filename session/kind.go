// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/keyhole-remote/keyhole/launch"
)

// Kind selects what a session does and how its worker is privileged.
// Fixed at supervisor construction.
type Kind int

const (
	// DesktopManage is full remote control: capture plus input
	// injection. Worker runs privileged.
	DesktopManage Kind = iota

	// DesktopView is capture only. Worker runs privileged.
	DesktopView

	// FileTransfer moves files with the console user's own
	// permissions. Worker runs as that user, and the session ends
	// permanently when the user's console session goes away.
	FileTransfer
)

// Token returns the stable identifier used on the worker command line
// and in logs.
func (k Kind) Token() string {
	switch k {
	case DesktopManage:
		return "desktop_manage"
	case DesktopView:
		return "desktop_view"
	case FileTransfer:
		return "file_transfer"
	default:
		panic(fmt.Sprintf("session: unknown session kind %d", int(k)))
	}
}

// ParseKind maps a session-kind token back to its Kind.
func ParseKind(token string) (Kind, error) {
	switch token {
	case "desktop_manage":
		return DesktopManage, nil
	case "desktop_view":
		return DesktopView, nil
	case "file_transfer":
		return FileTransfer, nil
	default:
		return 0, fmt.Errorf("unknown session type %q", token)
	}
}

// workerAccount returns the account class the kind's worker runs
// under. An unrecognized kind is a configuration defect — it cannot
// occur with validated input, so it terminates the process rather
// than being handled.
func workerAccount(kind Kind) launch.Account {
	switch kind {
	case DesktopManage, DesktopView:
		return launch.AccountSystem
	case FileTransfer:
		return launch.AccountUser
	default:
		panic(fmt.Sprintf("session: unknown session kind %d", int(kind)))
	}
}

// State is a supervisor's lifecycle position.
type State int

const (
	// Starting: attach sequence in progress, timeout armed.
	Starting State = iota

	// Attached: worker connected, relay active.
	Attached

	// Detached: worker gone, waiting for a console reconnect,
	// timeout armed.
	Detached

	// Stopped: terminal. All resources released, finished emitted.
	Stopped
)

// String returns the state's log token.
func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
