// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-connection session supervisor:
// the state machine that binds one authenticated remote connection to
// an isolated worker process and keeps that binding correct across
// console session switches, worker crashes, and timeouts.
//
// One Supervisor instance exists per live remote connection. Each runs
// a single event-loop goroutine; every notification — timer expiry,
// IPC server results, worker process exit, network traffic, console
// session changes — is delivered as a typed event into that loop and
// processed strictly in arrival order. There is no supervisor-internal
// locking because there is no parallel mutation of supervisor state.
//
// The attach sequence: arm the attach timeout, listen on a fresh
// unguessable IPC channel, launch the worker bound to the active
// console session with kind-specific privilege, and wait for the
// worker to dial back. Rendezvous disarms the timeout and starts the
// relay: messages are forwarded verbatim between the network endpoint
// and the IPC channel, with each side's next read primed only after
// the opposite side confirms the previous write — at most one
// unacknowledged message in flight per direction.
//
// Teardown is generation-guarded: every attach attempt increments a
// generation counter, and events carrying a stale generation are
// discarded. A late worker-exit notification from an attach that was
// already torn down can therefore never corrupt the next one.
package session
