// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/keyhole-remote/keyhole/console"
	"github.com/keyhole-remote/keyhole/ipc"
	"github.com/keyhole-remote/keyhole/launch"
	"github.com/keyhole-remote/keyhole/lib/clock"
	"github.com/keyhole-remote/keyhole/lib/testutil"
	"github.com/keyhole-remote/keyhole/transport"
)

const testTimeout = 5 * time.Second

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeChannel is an in-memory transport.Channel. The test plays the
// role of the peer: deliver injects an inbound message (requires a
// primed read token), completeWrite acknowledges the oldest
// unacknowledged write, disconnect severs the peer.
type fakeChannel struct {
	mu       sync.Mutex
	handlers transport.Handlers
	started  bool
	closed   bool
	writes   [][]byte
	pending  []int
	reads    int
	nextID   int
}

func newFakeChannel() *fakeChannel { return &fakeChannel{} }

func (c *fakeChannel) Start(handlers transport.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = handlers
	c.started = true
}

func (c *fakeChannel) ReadMessage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
}

func (c *fakeChannel) WriteMessage(priority int, payload []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.writes = append(c.writes, payload)
	c.pending = append(c.pending, c.nextID)
	return c.nextID
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *fakeChannel) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) deliver(payload []byte) {
	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()
	handlers.MessageReceived(payload)
}

func (c *fakeChannel) completeWrite() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		panic("completeWrite with no pending write")
	}
	id := c.pending[0]
	c.pending = c.pending[1:]
	handlers := c.handlers
	c.mu.Unlock()
	handlers.MessageWritten(id)
}

func (c *fakeChannel) disconnect() {
	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()
	handlers.Disconnected()
}

// fakeIPCServer stands in for ipc.Server. The test fires the handler
// outcomes by hand.
type fakeIPCServer struct {
	mu          sync.Mutex
	handlers    ipc.ServerHandlers
	handlersSet chan struct{}
	closes      int
}

func newFakeIPCServer() *fakeIPCServer {
	return &fakeIPCServer{handlersSet: make(chan struct{})}
}

func (f *fakeIPCServer) Start(handlers ipc.ServerHandlers) {
	f.mu.Lock()
	f.handlers = handlers
	f.mu.Unlock()
	close(f.handlersSet)
}

func (f *fakeIPCServer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeIPCServer) ready(t *testing.T) ipc.ServerHandlers {
	t.Helper()
	testutil.RequireClosed(t, f.handlersSet, testTimeout, "ipc server started")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

// fakeWorker stands in for launch.Process.
type fakeWorker struct {
	account   launch.Account
	sessionID uint32
	args      []string

	mu          sync.Mutex
	handlers    launch.Handlers
	handlersSet chan struct{}
	kills       int
}

func (f *fakeWorker) Start(handlers launch.Handlers) {
	f.mu.Lock()
	f.handlers = handlers
	f.mu.Unlock()
	close(f.handlersSet)
}

func (f *fakeWorker) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
}

func (f *fakeWorker) killCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills
}

func (f *fakeWorker) ready(t *testing.T) launch.Handlers {
	t.Helper()
	testutil.RequireClosed(t, f.handlersSet, testTimeout, "worker started")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

// fakeMonitor is a console.Monitor whose events the test injects.
type fakeMonitor struct {
	mu        sync.Mutex
	active    uint32
	callbacks map[int]func(console.Event)
	nextID    int
}

func newFakeMonitor(active uint32) *fakeMonitor {
	return &fakeMonitor{active: active, callbacks: make(map[int]func(console.Event))}
}

func (m *fakeMonitor) ActiveSession() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

func (m *fakeMonitor) Subscribe(callback func(console.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.callbacks[id] = callback
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callbacks, id)
	}
}

func (m *fakeMonitor) emit(event console.Event) {
	m.mu.Lock()
	callbacks := make([]func(console.Event), 0, len(m.callbacks))
	for _, callback := range m.callbacks {
		callbacks = append(callbacks, callback)
	}
	m.mu.Unlock()
	for _, callback := range callbacks {
		callback(event)
	}
}

// harness wires a Supervisor to fakes and records everything it
// creates.
type harness struct {
	t          *testing.T
	clk        *clock.FakeClock
	network    *fakeChannel
	monitor    *fakeMonitor
	supervisor *Supervisor
	ipcServers chan *fakeIPCServer
	workers    chan *fakeWorker
	finished   chan *Supervisor
}

func newHarness(t *testing.T, kind Kind) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		clk:        clock.Fake(testEpoch),
		network:    newFakeChannel(),
		monitor:    newFakeMonitor(1),
		ipcServers: make(chan *fakeIPCServer, 4),
		workers:    make(chan *fakeWorker, 4),
		finished:   make(chan *Supervisor, 4),
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h.supervisor = New(Config{
		Kind:       kind,
		Network:    h.network,
		Console:    h.monitor,
		RunDir:     "/unused",
		WorkerPath: "/usr/lib/keyhole/keyhole-session",
		Clock:      h.clk,
		Logger:     logger,
		OnFinished: func(s *Supervisor) { h.finished <- s },
	})
	h.supervisor.newIPCServer = func() (ipcListener, error) {
		server := newFakeIPCServer()
		h.ipcServers <- server
		return server, nil
	}
	h.supervisor.newWorker = func(account launch.Account, sessionID uint32, args []string) workerProcess {
		worker := &fakeWorker{
			account:     account,
			sessionID:   sessionID,
			args:        args,
			handlersSet: make(chan struct{}),
		}
		h.workers <- worker
		return worker
	}
	return h
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if h.supervisor.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("state = %v, want %v", h.supervisor.State(), want)
}

// attach drives a full rendezvous: IPC server ready, worker launched,
// worker dials back. Returns the created fakes.
func (h *harness) attach(channelID string) (*fakeIPCServer, *fakeWorker, *fakeChannel) {
	h.t.Helper()

	server := testutil.RequireReceive(h.t, h.ipcServers, testTimeout, "ipc server created")
	serverHandlers := server.ready(h.t)
	serverHandlers.Started(channelID)

	worker := testutil.RequireReceive(h.t, h.workers, testTimeout, "worker created")
	worker.ready(h.t)

	ipcChannel := newFakeChannel()
	serverHandlers.NewConnection(ipcChannel)
	h.waitState(Attached)
	return server, worker, ipcChannel
}

func (h *harness) requireNoFinish() {
	h.t.Helper()
	select {
	case <-h.finished:
		h.t.Fatal("unexpected finished notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartArmsOneTimerAndAttachesOnce(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()

	server := testutil.RequireReceive(t, h.ipcServers, testTimeout, "ipc server created")
	handlers := server.ready(t)

	// Exactly one timer armed, exactly one attach attempt.
	h.clk.WaitForTimers(1)
	if got := h.clk.PendingCount(); got != 1 {
		t.Errorf("armed timers = %d, want 1", got)
	}
	select {
	case <-h.ipcServers:
		t.Fatal("second attach attempt for a single Start")
	default:
	}

	handlers.Started("chan-a")
	worker := testutil.RequireReceive(t, h.workers, testTimeout, "worker created")
	worker.ready(t)

	if worker.sessionID != 1 {
		t.Errorf("worker session id = %d, want active console session 1", worker.sessionID)
	}
	if worker.account != launch.AccountSystem {
		t.Errorf("desktop worker account = %v, want AccountSystem", worker.account)
	}
	wantArgs := []string{"--channel_id", "chan-a", "--session_type", "desktop_manage"}
	if len(worker.args) != len(wantArgs) {
		t.Fatalf("worker args = %v, want %v", worker.args, wantArgs)
	}
	for index := range wantArgs {
		if worker.args[index] != wantArgs[index] {
			t.Fatalf("worker args = %v, want %v", worker.args, wantArgs)
		}
	}
}

func TestRendezvousDisarmsTimerAndPrimesRelay(t *testing.T) {
	h := newHarness(t, DesktopView)
	h.supervisor.Start()
	h.clk.WaitForTimers(1)

	_, _, ipcChannel := h.attach("chan-b")

	if got := h.clk.PendingCount(); got != 0 {
		t.Errorf("armed timers after attach = %d, want 0", got)
	}
	if ipcChannel.readCount() != 1 {
		t.Errorf("ipc reads primed = %d, want 1", ipcChannel.readCount())
	}
	if h.network.readCount() != 1 {
		t.Errorf("network reads primed = %d, want 1", h.network.readCount())
	}
}

func TestRelayForwardsWithBackpressure(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	_, _, ipcChannel := h.attach("chan-c")

	// Network → IPC.
	h.network.deliver([]byte("inbound"))
	deadline := time.Now().Add(testTimeout)
	for ipcChannel.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if ipcChannel.writeCount() != 1 {
		t.Fatalf("ipc writes = %d, want 1", ipcChannel.writeCount())
	}

	// The network's next read is primed only after the IPC write
	// completes: one unacknowledged message per direction, never two.
	time.Sleep(50 * time.Millisecond)
	if got := h.network.readCount(); got != 1 {
		t.Fatalf("network reads before write completion = %d, want 1", got)
	}
	ipcChannel.completeWrite()
	deadline = time.Now().Add(testTimeout)
	for h.network.readCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := h.network.readCount(); got != 2 {
		t.Fatalf("network reads after write completion = %d, want 2", got)
	}

	// IPC → network, same discipline.
	ipcChannel.deliver([]byte("outbound"))
	deadline = time.Now().Add(testTimeout)
	for h.network.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if h.network.writeCount() != 1 {
		t.Fatalf("network writes = %d, want 1", h.network.writeCount())
	}
	time.Sleep(50 * time.Millisecond)
	if got := ipcChannel.readCount(); got != 1 {
		t.Fatalf("ipc reads before write completion = %d, want 1", got)
	}
	h.network.completeWrite()
	deadline = time.Now().Add(testTimeout)
	for ipcChannel.readCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := ipcChannel.readCount(); got != 2 {
		t.Fatalf("ipc reads after write completion = %d, want 2", got)
	}
}

func TestAttachTimeoutStopsSupervisor(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()

	server := testutil.RequireReceive(t, h.ipcServers, testTimeout, "ipc server created")
	handlers := server.ready(t)
	handlers.Started("chan-d")
	worker := testutil.RequireReceive(t, h.workers, testTimeout, "worker created")
	worker.ready(t)

	// No rendezvous: the timer fires and the supervisor stops.
	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Minute)

	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)

	if worker.killCount() == 0 {
		t.Error("worker not killed on timeout stop")
	}
	if !h.network.isClosed() {
		t.Error("network endpoint not released on stop")
	}
}

func TestConsoleDisconnectDetachesAndArmsTimer(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	_, worker, ipcChannel := h.attach("chan-e")

	h.monitor.emit(console.Event{Kind: console.EventDisconnect, SessionID: 1})
	h.waitState(Detached)

	if worker.killCount() == 0 {
		t.Error("worker not killed on detach")
	}
	if !ipcChannel.isClosed() {
		t.Error("ipc channel not closed on detach")
	}
	h.clk.WaitForTimers(1)
	if got := h.clk.PendingCount(); got != 1 {
		t.Errorf("armed timers while Detached = %d, want 1", got)
	}
	h.requireNoFinish()
}

func TestFileTransferDetachStopsImmediately(t *testing.T) {
	h := newHarness(t, FileTransfer)
	h.supervisor.Start()
	_, worker, _ := h.attach("chan-f")

	if worker.account != launch.AccountUser {
		t.Errorf("file transfer worker account = %v, want AccountUser", worker.account)
	}

	h.monitor.emit(console.Event{Kind: console.EventDisconnect, SessionID: 1})

	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)

	// Terminal detach: zero reattach timers armed.
	if got := h.clk.PendingCount(); got != 0 {
		t.Errorf("armed timers after file-transfer detach = %d, want 0", got)
	}
}

func TestReconnectRestartsAttachForNewSession(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	_, oldWorker, _ := h.attach("chan-g")

	h.monitor.emit(console.Event{Kind: console.EventDisconnect, SessionID: 1})
	h.waitState(Detached)
	if oldWorker.killCount() == 0 {
		t.Fatal("old worker still running after detach")
	}

	h.monitor.emit(console.Event{Kind: console.EventConnect, SessionID: 7})
	h.waitState(Starting)

	// A fresh attach sequence targets the new session id.
	server := testutil.RequireReceive(t, h.ipcServers, testTimeout, "second ipc server")
	handlers := server.ready(t)
	handlers.Started("chan-h")
	newWorker := testutil.RequireReceive(t, h.workers, testTimeout, "second worker")
	newWorker.ready(t)
	if newWorker.sessionID != 7 {
		t.Errorf("reattach worker session id = %d, want 7", newWorker.sessionID)
	}

	ipcChannel := newFakeChannel()
	handlers.NewConnection(ipcChannel)
	h.waitState(Attached)
	h.requireNoFinish()
}

func TestDetachTimeoutWhileDetachedStops(t *testing.T) {
	h := newHarness(t, DesktopView)
	h.supervisor.Start()
	h.attach("chan-i")

	h.monitor.emit(console.Event{Kind: console.EventDisconnect, SessionID: 1})
	h.waitState(Detached)

	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Minute)

	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	_, worker, ipcChannel := h.attach("chan-j")

	h.supervisor.Stop()
	h.supervisor.Stop()

	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)

	// Exactly one finished, nothing dangling.
	select {
	case <-h.finished:
		t.Fatal("second finished notification")
	case <-time.After(100 * time.Millisecond):
	}
	if worker.killCount() == 0 {
		t.Error("worker left running after stop")
	}
	if !ipcChannel.isClosed() {
		t.Error("ipc channel left open after stop")
	}
	if !h.network.isClosed() {
		t.Error("network endpoint left open after stop")
	}
}

func TestWorkerExitDetaches(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	_, worker, _ := h.attach("chan-k")

	worker.ready(t).Finished()
	h.waitState(Detached)
	h.requireNoFinish()
}

func TestWorkerSpawnFailureStops(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()

	server := testutil.RequireReceive(t, h.ipcServers, testTimeout, "ipc server created")
	handlers := server.ready(t)
	handlers.Started("chan-l")
	worker := testutil.RequireReceive(t, h.workers, testTimeout, "worker created")

	worker.ready(t).Errored(errors.New("spawn failed"))
	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)
}

func TestIPCServerErrorStops(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()

	server := testutil.RequireReceive(t, h.ipcServers, testTimeout, "ipc server created")
	server.ready(t).Error(errors.New("bind failed"))

	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)
}

func TestIPCDisconnectDetaches(t *testing.T) {
	h := newHarness(t, DesktopView)
	h.supervisor.Start()
	_, _, ipcChannel := h.attach("chan-m")

	ipcChannel.disconnect()
	h.waitState(Detached)
	h.requireNoFinish()
}

func TestNetworkDisconnectStops(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	h.attach("chan-n")

	h.network.disconnect()
	testutil.RequireReceive(t, h.finished, testTimeout, "finished notification")
	h.waitState(Stopped)
}

func TestConsoleEventsIgnoredWhileStarting(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()

	server := testutil.RequireReceive(t, h.ipcServers, testTimeout, "ipc server created")
	server.ready(t)

	// Still Starting: the attach sequence owns the transition.
	h.monitor.emit(console.Event{Kind: console.EventConnect, SessionID: 9})
	h.monitor.emit(console.Event{Kind: console.EventDisconnect, SessionID: 9})

	time.Sleep(100 * time.Millisecond)
	select {
	case <-h.ipcServers:
		t.Fatal("console event during Starting triggered a new attach")
	default:
	}
	if got := h.supervisor.State(); got != Starting {
		t.Errorf("state = %v, want Starting", got)
	}
}

func TestStaleWorkerExitAfterDetachIsIgnored(t *testing.T) {
	h := newHarness(t, DesktopManage)
	h.supervisor.Start()
	_, worker, _ := h.attach("chan-o")

	h.monitor.emit(console.Event{Kind: console.EventDisconnect, SessionID: 1})
	h.waitState(Detached)

	// The killed worker's exit notification arrives late. It belongs
	// to the torn-down attach generation and must not re-detach or
	// stop anything.
	worker.ready(t).Finished()

	time.Sleep(100 * time.Millisecond)
	if got := h.supervisor.State(); got != Detached {
		t.Errorf("state after stale worker exit = %v, want Detached", got)
	}
	h.requireNoFinish()
	if got := h.clk.PendingCount(); got != 1 {
		t.Errorf("armed timers = %d, want the one reattach timer", got)
	}
}

func TestUnknownKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("workerAccount on an unknown kind did not panic")
		}
	}()
	workerAccount(Kind(42))
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, kind := range []Kind{DesktopManage, DesktopView, FileTransfer} {
		parsed, err := ParseKind(kind.Token())
		if err != nil {
			t.Fatalf("ParseKind(%s): %v", kind.Token(), err)
		}
		if parsed != kind {
			t.Errorf("ParseKind(%s) = %v, want %v", kind.Token(), parsed, kind)
		}
	}
	if _, err := ParseKind("desktop"); err == nil {
		t.Error("ParseKind accepted an unknown token")
	}
}
