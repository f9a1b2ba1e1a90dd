// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("hunter2-hunter2")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), []byte("hunter2-hunter2")) {
		t.Error("buffer contents do not match original secret")
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d, want 0 (source must be wiped)", index, value)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("secret"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBytesPanicsAfterClose(t *testing.T) {
	buffer, err := NewFromBytes([]byte("secret"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) succeeded, want error")
	}
	if _, err := New(-1); err == nil {
		t.Error("New(-1) succeeded, want error")
	}
}

func TestWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Wipe(data)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Errorf("Wipe left %v", data)
	}
}
