// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameHeaderLength is the fixed size of a frame header: a 4-byte
// big-endian payload length.
const frameHeaderLength = 4

// MaxFramePayload is the maximum allowed payload size. 16 MB is
// generous for desktop frames and file-transfer chunks; anything
// larger indicates a corrupt or hostile stream.
const MaxFramePayload = 16 * 1024 * 1024

// WriteFrame writes one length-prefixed frame to w: [4 bytes payload
// length, big-endian uint32] [payload]. Zero-length payloads are valid.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("payload length %d exceeds maximum %d", len(payload), MaxFramePayload)
	}
	var header [frameHeaderLength]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. Returns an error
// if the stream is malformed or the payload exceeds MaxFramePayload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[:])
	if payloadLength > MaxFramePayload {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, MaxFramePayload)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return payload, nil
}
