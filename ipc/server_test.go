// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/keyhole-remote/keyhole/lib/testutil"
	"github.com/keyhole-remote/keyhole/transport"
)

const testTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChannelIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		id, err := NewChannelID()
		if err != nil {
			t.Fatalf("NewChannelID: %v", err)
		}
		if len(id) != channelIDBytes*2 {
			t.Fatalf("id length = %d, want %d", len(id), channelIDBytes*2)
		}
		if seen[id] {
			t.Fatalf("duplicate channel id %s", id)
		}
		seen[id] = true
	}
}

func TestServerRendezvous(t *testing.T) {
	runDir := testutil.SocketDir(t)

	server, err := NewServer(runDir, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	started := make(chan string, 1)
	connected := make(chan transport.Channel, 1)
	server.Start(ServerHandlers{
		Started:       func(channelID string) { started <- channelID },
		NewConnection: func(channel transport.Channel) { connected <- channel },
		Error:         func(err error) { t.Errorf("server error: %v", err) },
	})

	channelID := testutil.RequireReceive(t, started, testTimeout, "server started")
	if channelID != server.ChannelID() {
		t.Errorf("Started id %s != ChannelID %s", channelID, server.ChannelID())
	}

	worker, err := Dial(runDir, channelID)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer worker.Close()

	supervisorSide := testutil.RequireReceive(t, connected, testTimeout, "worker connection")
	defer supervisorSide.Close()

	// Messages flow across the rendezvous in both directions.
	received := make(chan []byte, 1)
	supervisorSide.Start(transport.Handlers{
		MessageReceived: func(payload []byte) { received <- payload },
	})
	workerReceived := make(chan []byte, 1)
	worker.Start(transport.Handlers{
		MessageReceived: func(payload []byte) { workerReceived <- payload },
	})

	supervisorSide.ReadMessage()
	worker.WriteMessage(0, []byte("from-worker"))
	if got := testutil.RequireReceive(t, received, testTimeout, "worker message"); !bytes.Equal(got, []byte("from-worker")) {
		t.Errorf("payload = %q", got)
	}

	worker.ReadMessage()
	supervisorSide.WriteMessage(0, []byte("from-supervisor"))
	if got := testutil.RequireReceive(t, workerReceived, testTimeout, "supervisor message"); !bytes.Equal(got, []byte("from-supervisor")) {
		t.Errorf("payload = %q", got)
	}
}

func TestServerIsSingleUse(t *testing.T) {
	runDir := testutil.SocketDir(t)

	server, err := NewServer(runDir, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	started := make(chan string, 1)
	connected := make(chan transport.Channel, 1)
	server.Start(ServerHandlers{
		Started:       func(channelID string) { started <- channelID },
		NewConnection: func(channel transport.Channel) { connected <- channel },
	})

	channelID := testutil.RequireReceive(t, started, testTimeout, "server started")

	first, err := Dial(runDir, channelID)
	if err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	defer first.Close()
	testutil.RequireReceive(t, connected, testTimeout, "first connection").Close()

	// The socket is unlinked after the first accept; a second client
	// has nothing to connect to. Allow a brief window for the unlink.
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if _, statErr := os.Stat(SocketPath(runDir, channelID)); os.IsNotExist(statErr) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := net.Dial("unix", SocketPath(runDir, channelID)); err == nil {
		t.Error("second client connected to a single-use server")
	}
}

func TestServerBindFailureReportsError(t *testing.T) {
	// A run directory that does not exist cannot be bound.
	server, err := NewServer("/nonexistent/keyhole-run", testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	errored := make(chan error, 1)
	server.Start(ServerHandlers{
		Started: func(string) { t.Error("Started fired despite bind failure") },
		Error:   func(err error) { errored <- err },
	})

	if err := testutil.RequireReceive(t, errored, testTimeout, "bind error"); err == nil {
		t.Error("nil error delivered")
	}
}

func TestServerCloseAbortsAccept(t *testing.T) {
	runDir := testutil.SocketDir(t)

	server, err := NewServer(runDir, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	started := make(chan string, 1)
	errored := make(chan error, 1)
	server.Start(ServerHandlers{
		Started: func(channelID string) { started <- channelID },
		Error:   func(err error) { errored <- err },
		NewConnection: func(channel transport.Channel) {
			t.Error("NewConnection fired after Close")
			channel.Close()
		},
	})

	channelID := testutil.RequireReceive(t, started, testTimeout, "server started")
	server.Close()
	server.Close() // idempotent

	select {
	case err := <-errored:
		t.Errorf("close-initiated accept failure reported as error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := net.Dial("unix", SocketPath(runDir, channelID)); err == nil {
		t.Error("socket still accepting after Close")
	}
}
