// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes integrity digests of the worker binary.
// The host logs the worker binary's digest at startup and refuses to
// launch sessions when the binary is missing, so a broken install
// fails loudly at boot rather than at the first attach attempt.
package binhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile computes the SHA-256 digest of the file at path. The file
// is streamed through the hash in chunks (via io.Copy) to keep memory
// usage constant regardless of file size.
func HashFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatDigest returns the hex-encoded string representation of a
// SHA-256 digest. This is the format used in log output.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}
