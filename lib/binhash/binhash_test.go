// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileKnownDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker")
	if err := os.WriteFile(path, []byte("abc"), 0o755); err != nil {
		t.Fatal(err)
	}

	digest, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	// SHA-256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := FormatDigest(digest); got != want {
		t.Errorf("FormatDigest = %s, want %s", got, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("HashFile on missing file succeeded, want error")
	}
}
