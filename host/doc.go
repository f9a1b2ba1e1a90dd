// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package host admits authenticated remote connections into supervised
// sessions. The Registry reads each connection's session hello,
// validates the named user record, constructs a session supervisor for
// the requested session kind, and tracks the live supervisors so
// per-user session limits hold and finished sessions are pruned.
package host
