// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// channelIDBytes is the entropy of a channel id. 16 random bytes make
// the socket path unguessable within the attach window; the id is the
// rendezvous secret shared with the worker via its argument list.
const channelIDBytes = 16

// NewChannelID returns a fresh unguessable channel id, hex-encoded.
func NewChannelID() (string, error) {
	var raw [channelIDBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating channel id: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// SocketPath returns the Unix socket path for a channel id under the
// host's runtime directory.
func SocketPath(runDir, channelID string) string {
	return filepath.Join(runDir, "keyhole-"+channelID+".sock")
}
