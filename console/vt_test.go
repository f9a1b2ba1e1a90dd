// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"sync"
	"testing"
	"time"

	"github.com/keyhole-remote/keyhole/lib/clock"
	"github.com/keyhole-remote/keyhole/lib/testutil"
)

const testTimeout = 5 * time.Second

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeVT serves a mutable active-VT name to the monitor.
type fakeVT struct {
	mu   sync.Mutex
	name string
}

func (f *fakeVT) set(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
}

func (f *fakeVT) read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, nil
}

func newTestMonitor(vt *fakeVT) (*VTMonitor, *clock.FakeClock) {
	fakeClock := clock.Fake(testEpoch)
	monitor := NewVTMonitor(fakeClock, time.Second, nil)
	monitor.readActive = vt.read
	return monitor, fakeClock
}

func TestParseVT(t *testing.T) {
	id, err := parseVT("tty3")
	if err != nil {
		t.Fatalf("parseVT: %v", err)
	}
	if id != 3 {
		t.Errorf("parseVT(tty3) = %d, want 3", id)
	}
	if _, err := parseVT("console"); err == nil {
		t.Error("parseVT accepted a non-tty name")
	}
}

func TestVTSwitchEmitsDisconnectThenConnect(t *testing.T) {
	vt := &fakeVT{name: "tty1"}
	monitor, fakeClock := newTestMonitor(vt)

	events := make(chan Event, 4)
	cancel := monitor.Subscribe(func(event Event) { events <- event })
	defer cancel()

	vt.set("tty2")
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Second)

	first := testutil.RequireReceive(t, events, testTimeout, "disconnect event")
	if first.Kind != EventDisconnect || first.SessionID != 1 {
		t.Errorf("first event = %v/%d, want disconnect/1", first.Kind, first.SessionID)
	}
	second := testutil.RequireReceive(t, events, testTimeout, "connect event")
	if second.Kind != EventConnect || second.SessionID != 2 {
		t.Errorf("second event = %v/%d, want connect/2", second.Kind, second.SessionID)
	}
}

func TestNoEventsWithoutSwitch(t *testing.T) {
	vt := &fakeVT{name: "tty1"}
	monitor, fakeClock := newTestMonitor(vt)

	events := make(chan Event, 4)
	cancel := monitor.Subscribe(func(event Event) { events <- event })
	defer cancel()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(3 * time.Second)

	select {
	case event := <-events:
		t.Errorf("unexpected event %v/%d", event.Kind, event.SessionID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	vt := &fakeVT{name: "tty1"}
	monitor, fakeClock := newTestMonitor(vt)

	events := make(chan Event, 4)
	cancel := monitor.Subscribe(func(event Event) { events <- event })
	fakeClock.WaitForTimers(1)
	cancel()

	vt.set("tty5")
	fakeClock.Advance(time.Second)

	select {
	case event := <-events:
		t.Errorf("event %v/%d delivered after cancel", event.Kind, event.SessionID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStaticMonitor(t *testing.T) {
	monitor := &StaticMonitor{SessionID: 9}
	id, err := monitor.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if id != 9 {
		t.Errorf("ActiveSession = %d, want 9", id)
	}
	cancel := monitor.Subscribe(func(Event) { t.Error("static monitor emitted an event") })
	cancel()
}
