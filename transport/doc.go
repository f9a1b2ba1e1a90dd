// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the framed message channel the session
// supervisor relays over, and its TCP implementation.
//
// The package is organized around the relay data flow:
//
//   - frame.go: wire framing (4-byte big-endian length prefix + payload)
//   - channel.go: the Channel contract — token-driven one-message reads,
//     queued writes with completion notifications, disconnect delivery
//   - conn.go: Channel implementation over a net.Conn
//
// Reads are token-driven: the consumer calls ReadMessage to prime
// exactly one read, and the next frame is delivered through the
// MessageReceived handler. Until the next token arrives, the channel
// does not read from the socket, so TCP flow control pushes back on
// the remote peer. This is what gives the supervisor its strict
// one-message-in-flight-per-direction relay discipline.
package transport
