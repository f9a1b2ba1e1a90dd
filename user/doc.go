// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package user implements Keyhole's credential records: a validated
// account name, a key-stretched password digest, permission flags, and
// a concurrent-session limit.
//
// Records never hold a plaintext password beyond the SetPassword call
// that derives the digest, and Wipe zeroes a record's name and digest
// storage before release so secrets do not linger in freed memory.
//
// The on-disk list is deterministic CBOR, written atomically. Password
// verification by the authenticator compares stretched digests; this
// package only produces and stores them.
package user
