// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/keyhole-remote/keyhole/console"
	"github.com/keyhole-remote/keyhole/ipc"
	"github.com/keyhole-remote/keyhole/launch"
	"github.com/keyhole-remote/keyhole/lib/clock"
	"github.com/keyhole-remote/keyhole/transport"
)

// DefaultAttachTimeout bounds how long a session may sit in Starting
// (awaiting the first attach) or Detached (awaiting a reattach) before
// it is terminated. The reattach window deliberately equals the
// initial window.
const DefaultAttachTimeout = time.Minute

// relayPriority is the priority the relay forwards messages at. The
// channel contract carries a priority for parity with the remote
// protocol; relayed traffic is always default priority.
const relayPriority = 0

// eventQueueDepth buffers the supervisor's event channel so endpoint
// callbacks rarely block. Depth is uncritical: posts block (preserving
// order) rather than drop when the loop falls behind.
const eventQueueDepth = 64

// ipcListener is the supervisor's view of an IPC rendezvous server.
// Satisfied by *ipc.Server; tests inject fakes.
type ipcListener interface {
	Start(handlers ipc.ServerHandlers)
	Close()
}

// workerProcess is the supervisor's view of a launched worker.
// Satisfied by *launch.Process; tests inject fakes.
type workerProcess interface {
	Start(handlers launch.Handlers)
	Kill()
}

// Config assembles a Supervisor. Network, Console, RunDir, and
// WorkerPath are required; zero-valued optional fields take defaults.
type Config struct {
	// Kind fixes the session's behavior and worker privilege.
	Kind Kind

	// Network is the authenticated channel to the remote peer. The
	// supervisor takes ownership: it is closed when the supervisor
	// stops.
	Network transport.Channel

	// Console reports the active console session and its changes.
	Console console.Monitor

	// RunDir hosts per-attach IPC sockets.
	RunDir string

	// WorkerPath is the worker executable.
	WorkerPath string

	// AttachTimeout overrides DefaultAttachTimeout when positive.
	AttachTimeout time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnFinished is invoked exactly once when the supervisor reaches
	// Stopped, after all resources are released. The owner uses it to
	// prune its session table. Runs on the supervisor's loop
	// goroutine.
	OnFinished func(*Supervisor)
}

// Supervisor drives one remote session. Create with New, call Start
// once, and Stop from anywhere. All fields below the event channel are
// touched only by the loop goroutine.
type Supervisor struct {
	kind           Kind
	network        transport.Channel
	consoleMonitor console.Monitor
	attachTimeout  time.Duration
	clk            clock.Clock
	logger         *slog.Logger
	onFinished     func(*Supervisor)

	newIPCServer func() (ipcListener, error)
	newWorker    func(account launch.Account, sessionID uint32, args []string) workerProcess

	events chan event
	done   chan struct{}

	stateMirror atomic.Int32

	// Loop-goroutine state. No locking: single-threaded by design.
	state         State
	generation    int
	timerSeq      int
	timer         *clock.Timer
	sessionID     uint32
	ipcServer     ipcListener
	ipcChannel    transport.Channel
	worker        workerProcess
	cancelConsole func()
}

// New builds a Supervisor from cfg. The supervisor is inert until
// Start is called.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_kind", cfg.Kind.Token())

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	attachTimeout := cfg.AttachTimeout
	if attachTimeout <= 0 {
		attachTimeout = DefaultAttachTimeout
	}

	s := &Supervisor{
		kind:           cfg.Kind,
		network:        cfg.Network,
		consoleMonitor: cfg.Console,
		attachTimeout:  attachTimeout,
		clk:            clk,
		logger:         logger,
		onFinished:     cfg.OnFinished,
		events:         make(chan event, eventQueueDepth),
		done:           make(chan struct{}),
	}
	s.newIPCServer = func() (ipcListener, error) {
		return ipc.NewServer(cfg.RunDir, logger)
	}
	s.newWorker = func(account launch.Account, sessionID uint32, args []string) workerProcess {
		return &launch.Process{
			Account:   account,
			SessionID: sessionID,
			Path:      cfg.WorkerPath,
			Args:      args,
			Logger:    logger,
		}
	}
	return s
}

// Kind returns the session kind.
func (s *Supervisor) Kind() Kind { return s.kind }

// State returns the supervisor's current state. Safe from any
// goroutine; primarily for the owner and tests.
func (s *Supervisor) State() State { return State(s.stateMirror.Load()) }

// Done is closed when the supervisor reaches Stopped.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Start begins supervision: the network handlers are registered, the
// console subscription opened, and the attach sequence started for
// the currently active console session. Call exactly once.
func (s *Supervisor) Start() {
	s.network.Start(transport.Handlers{
		MessageReceived: func(payload []byte) { s.post(networkMessageReceived{payload: payload}) },
		MessageWritten:  func(messageID int) { s.post(networkMessageWritten{messageID: messageID}) },
		Disconnected:    func() { s.post(networkDisconnected{}) },
	})
	s.cancelConsole = s.consoleMonitor.Subscribe(func(e console.Event) {
		s.post(consoleChanged{kind: e.Kind, sessionID: e.SessionID})
	})
	go s.run()
}

// Stop requests termination. Idempotent, callable from any goroutine
// and from within any endpoint callback; the teardown itself happens
// on the loop goroutine, never re-entrantly inside the callback that
// triggered it.
func (s *Supervisor) Stop() {
	s.post(stopRequested{})
}

// post delivers an event to the loop, or discards it if the
// supervisor has already stopped.
func (s *Supervisor) post(e event) {
	select {
	case <-s.done:
	case s.events <- e:
	}
}

func (s *Supervisor) run() {
	s.setState(Starting)
	s.armTimer()

	sessionID, err := s.consoleMonitor.ActiveSession()
	if err != nil {
		s.logger.Error("cannot determine active console session", "error", err)
		s.doStop()
	} else {
		s.attachSession(sessionID)
	}

	for s.state != Stopped {
		s.handle(<-s.events)
	}
}

func (s *Supervisor) handle(e event) {
	switch e := e.(type) {
	case stopRequested:
		s.doStop()

	case timerFired:
		if e.seq != s.timerSeq || s.timer == nil {
			return
		}
		s.logger.Info("attach timeout expired", "state", s.state.String())
		s.doStop()

	case ipcServerStarted:
		if e.gen != s.generation || s.state != Starting {
			return
		}
		s.launchWorker(e.channelID)

	case ipcServerError:
		if e.gen != s.generation {
			return
		}
		s.logger.Error("IPC server failed", "error", e.err)
		s.doStop()

	case ipcNewConnection:
		if e.gen != s.generation || s.state != Starting {
			e.channel.Close()
			return
		}
		s.completeAttach(e.channel)

	case ipcMessageReceived:
		if e.gen != s.generation || s.state != Attached {
			return
		}
		s.network.WriteMessage(relayPriority, e.payload)

	case ipcMessageWritten:
		if e.gen != s.generation || s.state != Attached {
			return
		}
		s.network.ReadMessage()

	case ipcDisconnected:
		if e.gen != s.generation {
			return
		}
		s.detachSession()

	case networkMessageReceived:
		if s.state == Attached && s.ipcChannel != nil {
			s.ipcChannel.WriteMessage(relayPriority, e.payload)
		}

	case networkMessageWritten:
		if s.state == Attached && s.ipcChannel != nil {
			s.ipcChannel.ReadMessage()
		}

	case networkDisconnected:
		s.doStop()

	case processErrored:
		if e.gen != s.generation {
			return
		}
		s.logger.Error("worker process failed", "error", e.err)
		s.doStop()

	case processFinished:
		if e.gen != s.generation {
			return
		}
		s.detachSession()

	case consoleChanged:
		s.handleConsoleChange(e)
	}
}

// handleConsoleChange acts on console session events only while
// Attached or Detached. In Starting the in-flight attach sequence owns
// the transition; in Stopped there is nothing left to do.
func (s *Supervisor) handleConsoleChange(e consoleChanged) {
	if s.state != Attached && s.state != Detached {
		return
	}

	switch e.kind {
	case console.EventConnect:
		s.logger.Info("console session connected", "session_id", e.sessionID)
		if s.state == Attached {
			// Reconnect without an observed disconnect: the current
			// binding targets a dead session. Tear it down quietly
			// and attach to the new one.
			s.teardownAttach()
		}
		s.disarmTimer()
		s.armTimer()
		s.attachSession(e.sessionID)

	case console.EventDisconnect:
		s.logger.Info("console session disconnected", "session_id", e.sessionID)
		s.detachSession()
	}
}

// attachSession starts a fresh attach attempt targeting sessionID.
// The attach timer must already be armed.
func (s *Supervisor) attachSession(sessionID uint32) {
	s.setState(Starting)
	s.sessionID = sessionID
	s.generation++
	gen := s.generation

	server, err := s.newIPCServer()
	if err != nil {
		s.logger.Error("cannot create IPC server", "error", err)
		s.doStop()
		return
	}
	s.ipcServer = server

	server.Start(ipc.ServerHandlers{
		Started: func(channelID string) {
			s.post(ipcServerStarted{gen: gen, channelID: channelID})
		},
		NewConnection: func(channel transport.Channel) {
			s.post(ipcNewConnection{gen: gen, channel: channel})
		},
		Error: func(err error) {
			s.post(ipcServerError{gen: gen, err: err})
		},
	})
}

// launchWorker spawns the worker process for the current attach
// attempt, now that the IPC server is listening on channelID.
func (s *Supervisor) launchWorker(channelID string) {
	account := workerAccount(s.kind)
	args := []string{
		"--channel_id", channelID,
		"--session_type", s.kind.Token(),
	}

	worker := s.newWorker(account, s.sessionID, args)
	s.worker = worker
	gen := s.generation

	s.logger.Info("launching worker",
		"session_id", s.sessionID,
		"channel_id", channelID)

	worker.Start(launch.Handlers{
		Errored:  func(err error) { s.post(processErrored{gen: gen, err: err}) },
		Finished: func() { s.post(processFinished{gen: gen}) },
	})
}

// completeAttach finishes the rendezvous: the worker's channel is
// adopted, the timeout disarmed, and both endpoints primed for their
// first relay message.
func (s *Supervisor) completeAttach(channel transport.Channel) {
	s.disarmTimer()
	s.ipcChannel = channel
	gen := s.generation

	channel.Start(transport.Handlers{
		MessageReceived: func(payload []byte) { s.post(ipcMessageReceived{gen: gen, payload: payload}) },
		MessageWritten:  func(messageID int) { s.post(ipcMessageWritten{gen: gen}) },
		Disconnected:    func() { s.post(ipcDisconnected{gen: gen}) },
	})

	s.setState(Attached)
	s.logger.Info("session attached", "session_id", s.sessionID)

	channel.ReadMessage()
	s.network.ReadMessage()
}

// detachSession severs the worker binding. Non-terminal kinds re-arm
// the timeout and await a console reconnect; FileTransfer terminates.
func (s *Supervisor) detachSession() {
	if s.state == Stopped || s.state == Detached {
		return
	}
	s.setState(Detached)
	s.teardownAttach()

	if s.kind == FileTransfer {
		// The file transfer session ends when the user goes away.
		s.doStop()
		return
	}

	s.armTimer()
	s.logger.Info("session detached, awaiting reattach")
}

// teardownAttach releases the current attach attempt's resources and
// invalidates its in-flight events.
func (s *Supervisor) teardownAttach() {
	s.generation++

	if s.worker != nil {
		s.worker.Kill()
		s.worker = nil
	}
	if s.ipcChannel != nil {
		s.ipcChannel.Close()
		s.ipcChannel = nil
	}
	if s.ipcServer != nil {
		s.ipcServer.Close()
		s.ipcServer = nil
	}
}

// doStop is the single terminal path. Idempotent; every failure route
// ends here, and exactly one finished notification leaves.
func (s *Supervisor) doStop() {
	if s.state == Stopped {
		return
	}

	s.teardownAttach()
	s.disarmTimer()
	s.setState(Stopped)

	if s.cancelConsole != nil {
		s.cancelConsole()
		s.cancelConsole = nil
	}
	s.network.Close()
	close(s.done)

	s.logger.Info("session finished")
	if s.onFinished != nil {
		s.onFinished(s)
	}
}

// armTimer arms the attach/reattach timeout. At most one timer is
// ever armed; the sequence number lets the loop ignore a fire event
// from a timer that was already disarmed.
func (s *Supervisor) armTimer() {
	s.disarmTimer()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.clk.AfterFunc(s.attachTimeout, func() {
		s.post(timerFired{seq: seq})
	})
}

func (s *Supervisor) disarmTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) setState(next State) {
	if s.state != next {
		s.logger.Debug("state transition", "from", s.state.String(), "to", next.String())
	}
	s.state = next
	s.stateMirror.Store(int32(next))
}
