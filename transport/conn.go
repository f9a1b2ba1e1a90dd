// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"net"
	"sync"
	"sync/atomic"
)

// Compile-time interface check.
var _ Channel = (*Conn)(nil)

// writeQueueDepth bounds pending writes. The supervisor's relay keeps
// at most one write in flight per direction; the extra headroom
// absorbs control messages (hello responses) without blocking.
const writeQueueDepth = 64

type writeRequest struct {
	id      int
	payload []byte
}

// Conn implements Channel over a net.Conn (TCP from the remote peer,
// Unix domain socket from the worker process). Framing is the shared
// length-prefixed format from frame.go.
type Conn struct {
	conn     net.Conn
	handlers Handlers

	readTokens chan struct{}
	writeQueue chan writeRequest
	closed     chan struct{}

	closeOnce      sync.Once
	disconnectOnce sync.Once
	locallyClosed  atomic.Bool

	mu            sync.Mutex
	nextMessageID int
}

// NewConn wraps an established connection. The caller transfers
// ownership: Close tears the underlying connection down.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:       conn,
		readTokens: make(chan struct{}, 1),
		writeQueue: make(chan writeRequest, writeQueueDepth),
		closed:     make(chan struct{}),
	}
}

// Start registers handlers and launches the read and write pumps.
func (c *Conn) Start(handlers Handlers) {
	c.handlers = handlers
	go c.readPump()
	go c.writePump()
}

// ReadMessage primes one inbound read. No-op if a read is already
// pending.
func (c *Conn) ReadMessage() {
	select {
	case c.readTokens <- struct{}{}:
	default:
	}
}

// WriteMessage queues payload for transmission and returns its id.
// Writes submitted after the channel is closed are silently dropped;
// the consumer observes the loss through Disconnected instead.
func (c *Conn) WriteMessage(priority int, payload []byte) int {
	_ = priority // transmitted in submission order regardless

	c.mu.Lock()
	c.nextMessageID++
	id := c.nextMessageID
	c.mu.Unlock()

	select {
	case c.writeQueue <- writeRequest{id: id, payload: payload}:
	case <-c.closed:
	}
	return id
}

// Close tears the channel down and closes the underlying connection.
// Idempotent; does not fire Handlers.Disconnected.
func (c *Conn) Close() error {
	c.locallyClosed.Store(true)
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) readPump() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.readTokens:
		}

		payload, err := ReadFrame(c.conn)
		if err != nil {
			c.disconnect()
			return
		}
		if c.handlers.MessageReceived != nil {
			c.handlers.MessageReceived(payload)
		}
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case request := <-c.writeQueue:
			if err := WriteFrame(c.conn, request.payload); err != nil {
				c.disconnect()
				return
			}
			if c.handlers.MessageWritten != nil {
				c.handlers.MessageWritten(request.id)
			}
		}
	}
}

// disconnect reports peer loss exactly once. A local Close suppresses
// the notification: the consumer initiated the teardown and must not
// see it echoed back as a failure.
func (c *Conn) disconnect() {
	c.disconnectOnce.Do(func() {
		c.conn.Close()
		if !c.locallyClosed.Load() && c.handlers.Disconnected != nil {
			c.handlers.Disconnected()
		}
	})
}
