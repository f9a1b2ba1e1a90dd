// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package transport

// Handlers receives channel notifications. All callbacks are invoked
// from the channel's internal goroutines, one at a time per direction;
// consumers that need single-threaded processing (the session
// supervisor) forward them into their own event queue.
type Handlers struct {
	// MessageReceived delivers one inbound message payload. Called
	// only after a ReadMessage token was primed, never spontaneously.
	MessageReceived func(payload []byte)

	// MessageWritten reports completion of the write with the given
	// id, in submission order.
	MessageWritten func(messageID int)

	// Disconnected reports loss of the peer. Fired at most once, and
	// not fired for a local Close.
	Disconnected func()
}

// Channel is a bidirectional framed message channel. The network
// endpoint handed to a session supervisor and the IPC channel to a
// worker process both satisfy this contract.
//
// Reads are token-driven: each ReadMessage call delivers exactly one
// message through Handlers.MessageReceived. Writes are queued and
// acknowledged through Handlers.MessageWritten. Message order is
// preserved per direction.
type Channel interface {
	// Start registers the handlers and begins pumping messages.
	// Must be called exactly once before ReadMessage or WriteMessage.
	Start(handlers Handlers)

	// ReadMessage primes the channel to deliver its next inbound
	// message. At most one read may be outstanding; priming while a
	// read is already pending is a no-op.
	ReadMessage()

	// WriteMessage queues payload for transmission and returns its
	// message id. The priority argument is carried for parity with
	// the remote protocol surface; this implementation transmits all
	// priorities in submission order.
	WriteMessage(priority int, payload []byte) int

	// Close tears the channel down. Idempotent. Does not fire
	// Handlers.Disconnected.
	Close() error
}
