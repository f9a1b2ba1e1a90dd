// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package console

// EventKind classifies a console session change.
type EventKind int

const (
	// EventConnect reports a session becoming the active console
	// session. SessionID identifies the new session.
	EventConnect EventKind = iota

	// EventDisconnect reports the active session leaving the console.
	// SessionID identifies the departing session.
	EventDisconnect

	// EventOther covers session changes supervisors do not act on
	// (lock, unlock, remote control changes). Delivered for logging.
	EventOther
)

// String returns the event kind's log token.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	default:
		return "other"
	}
}

// Event is one console session change notification.
type Event struct {
	Kind      EventKind
	SessionID uint32
}

// Monitor reports the active console session and delivers session
// change events. Callbacks run on the monitor's goroutine; consumers
// forward them into their own event queues.
type Monitor interface {
	// ActiveSession returns the currently active console session id.
	ActiveSession() (uint32, error)

	// Subscribe registers a callback for session change events and
	// returns a cancel function. Events observed after cancel returns
	// are not delivered.
	Subscribe(callback func(Event)) (cancel func())
}

// StaticMonitor is a Monitor for hosts without session switching: one
// fixed session, no events.
type StaticMonitor struct {
	// SessionID is the session reported by ActiveSession.
	SessionID uint32
}

// ActiveSession returns the fixed session id.
func (m *StaticMonitor) ActiveSession() (uint32, error) {
	return m.SessionID, nil
}

// Subscribe never delivers events. The returned cancel is a no-op.
func (m *StaticMonitor) Subscribe(callback func(Event)) (cancel func()) {
	return func() {}
}
