// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keyhole-remote/keyhole/lib/clock"
)

// activeVTPath is the kernel's record of the active virtual terminal,
// e.g. "tty2\n".
const activeVTPath = "/sys/class/tty/tty0/active"

// DefaultPollInterval is how often VTMonitor samples the active VT.
const DefaultPollInterval = time.Second

// VTMonitor observes the active Linux virtual terminal by polling the
// kernel. A VT switch is delivered as a disconnect of the old session
// followed by a connect of the new one, in that order — the same shape
// a fast-user-switch produces.
type VTMonitor struct {
	clock        clock.Clock
	pollInterval time.Duration
	logger       *slog.Logger

	// readActive reads the active VT name; tests inject a fake.
	readActive func() (string, error)

	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextID      int
	ticker      *clock.Ticker
	stop        chan struct{}
	lastSession uint32
	polling     bool
}

// NewVTMonitor creates a monitor polling at interval (0 means
// DefaultPollInterval).
func NewVTMonitor(clk clock.Clock, interval time.Duration, logger *slog.Logger) *VTMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &VTMonitor{
		clock:        clk,
		pollInterval: interval,
		logger:       logger,
		readActive:   readActiveVT,
		subscribers:  make(map[int]func(Event)),
	}
}

func readActiveVT() (string, error) {
	data, err := os.ReadFile(activeVTPath)
	if err != nil {
		return "", fmt.Errorf("reading active VT: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseVT extracts the session number from a VT name like "tty2".
func parseVT(name string) (uint32, error) {
	digits := strings.TrimPrefix(name, "tty")
	number, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing VT name %q: %w", name, err)
	}
	return uint32(number), nil
}

// ActiveSession returns the session id of the active virtual terminal.
func (m *VTMonitor) ActiveSession() (uint32, error) {
	name, err := m.readActive()
	if err != nil {
		return 0, err
	}
	return parseVT(name)
}

// Subscribe registers a callback and starts the poll loop on first
// use. The returned cancel unregisters the callback; the last cancel
// stops the poll loop.
func (m *VTMonitor) Subscribe(callback func(Event)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subscribers[id] = callback

	if !m.polling {
		if current, err := m.ActiveSession(); err == nil {
			m.lastSession = current
		} else if m.logger != nil {
			m.logger.Warn("cannot read active console session", "error", err)
		}
		m.ticker = m.clock.NewTicker(m.pollInterval)
		m.stop = make(chan struct{})
		m.polling = true
		go m.poll(m.ticker, m.stop)
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
		if len(m.subscribers) == 0 && m.polling {
			m.ticker.Stop()
			close(m.stop)
			m.polling = false
		}
	}
}

func (m *VTMonitor) poll(ticker *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		current, err := m.ActiveSession()
		if err != nil {
			continue
		}

		m.mu.Lock()
		previous := m.lastSession
		if current == previous {
			m.mu.Unlock()
			continue
		}
		m.lastSession = current
		callbacks := make([]func(Event), 0, len(m.subscribers))
		for _, callback := range m.subscribers {
			callbacks = append(callbacks, callback)
		}
		m.mu.Unlock()

		if m.logger != nil {
			m.logger.Info("console session switch",
				"from", previous, "to", current)
		}
		for _, callback := range callbacks {
			callback(Event{Kind: EventDisconnect, SessionID: previous})
			callback(Event{Kind: EventConnect, SessionID: current})
		}
	}
}
