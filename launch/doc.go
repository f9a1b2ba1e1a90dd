// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch starts worker processes bound to an interactive
// console session under a chosen account class.
//
// Privilege selection is the launcher's responsibility, not the
// supervisor's: AccountSystem workers inherit the host's (privileged)
// credentials for desktop capture and input injection; AccountUser
// workers are de-escalated to the console session's owner for file
// transfer, so file operations carry the user's own permissions.
//
// The launcher reports exactly two things: Errored for spawn failures
// (missing binary, permission denial) and Finished for any exit,
// including a Kill. The supervisor maps both onto its state machine —
// neither is ever silently ignored.
package launch
