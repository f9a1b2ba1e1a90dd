// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"fmt"
	"net"
	"time"

	"github.com/keyhole-remote/keyhole/lib/codec"
	"github.com/keyhole-remote/keyhole/transport"
)

// Hello is the first frame a client sends on an authenticated
// connection: who is connecting and what kind of session they want.
type Hello struct {
	Username    string `cbor:"username"`
	SessionType string `cbor:"session_type"`
}

// maxHelloSize caps the hello frame well below the transport frame
// limit. A username plus a session-type token fits in a fraction of
// this.
const maxHelloSize = 4096

// WriteHello sends the hello frame. Client side.
func WriteHello(conn net.Conn, hello Hello) error {
	data, err := codec.Marshal(hello)
	if err != nil {
		return fmt.Errorf("encoding session hello: %w", err)
	}
	if err := transport.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("sending session hello: %w", err)
	}
	return nil
}

// readHello reads and decodes the hello frame, bounded by timeout. The
// read deadline is cleared before returning so the connection can be
// handed to the session transport.
func readHello(conn net.Conn, timeout time.Duration) (Hello, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Hello{}, fmt.Errorf("setting hello deadline: %w", err)
	}

	payload, err := transport.ReadFrame(conn)
	if err != nil {
		return Hello{}, fmt.Errorf("reading session hello: %w", err)
	}
	if len(payload) > maxHelloSize {
		return Hello{}, fmt.Errorf("session hello of %d bytes exceeds maximum %d", len(payload), maxHelloSize)
	}

	var hello Hello
	if err := codec.Unmarshal(payload, &hello); err != nil {
		return Hello{}, fmt.Errorf("parsing session hello: %w", err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return Hello{}, fmt.Errorf("clearing hello deadline: %w", err)
	}
	return hello, nil
}
