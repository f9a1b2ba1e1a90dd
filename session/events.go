// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/keyhole-remote/keyhole/console"
	"github.com/keyhole-remote/keyhole/transport"
)

// event is a typed notification delivered to the supervisor's loop.
// Events that originate from a per-attach resource (IPC server, IPC
// channel, worker process, attach timer) carry the generation or timer
// sequence they were created under, so the loop can discard anything
// that outlived its attach attempt.
type event interface{ isEvent() }

type timerFired struct{ seq int }

type ipcServerStarted struct {
	gen       int
	channelID string
}

type ipcServerError struct {
	gen int
	err error
}

type ipcNewConnection struct {
	gen     int
	channel transport.Channel
}

type ipcMessageReceived struct {
	gen     int
	payload []byte
}

type ipcMessageWritten struct{ gen int }

type ipcDisconnected struct{ gen int }

type networkMessageReceived struct{ payload []byte }

type networkMessageWritten struct{ messageID int }

type networkDisconnected struct{}

type processErrored struct {
	gen int
	err error
}

type processFinished struct{ gen int }

type consoleChanged struct {
	kind      console.EventKind
	sessionID uint32
}

type stopRequested struct{}

func (timerFired) isEvent()             {}
func (ipcServerStarted) isEvent()       {}
func (ipcServerError) isEvent()         {}
func (ipcNewConnection) isEvent()       {}
func (ipcMessageReceived) isEvent()     {}
func (ipcMessageWritten) isEvent()      {}
func (ipcDisconnected) isEvent()        {}
func (networkMessageReceived) isEvent() {}
func (networkMessageWritten) isEvent()  {}
func (networkDisconnected) isEvent()    {}
func (processErrored) isEvent()         {}
func (processFinished) isEvent()        {}
func (consoleChanged) isEvent()         {}
func (stopRequested) isEvent()          {}
