// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package console observes the interactive console session: which
// numeric session is currently attached to the physical console, and
// connect/disconnect events as users switch.
//
// Session supervisors consume these events to drive their
// attach/detach state machine: a disconnect detaches the worker, a
// connect with a new session id restarts the attach sequence there.
//
// Two implementations are provided. VTMonitor polls the kernel's
// active virtual terminal and synthesizes a disconnect/connect pair on
// every switch. StaticMonitor reports a fixed session and never emits
// events — for headless hosts and tests.
package console
