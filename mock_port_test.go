package serialbridge

import (
	"sync"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/atomic"
)

// readEvent is one driver read return: data, an error, or (with neither) an
// empty notification.
type readEvent struct {
	data []byte
	err  error
}

type mockPort struct {
	events   chan readEvent
	closedCh chan struct{}
	// idle, when set, makes Read return (0, nil) after that long without an
	// event, like a driver read timeout.
	idle time.Duration

	closeOnce  sync.Once
	closeCount atomic.Int64
	closeErr   error

	readTimeout    atomic.Duration
	readTimeoutErr error

	writeMu sync.Mutex
	writes  [][]byte
	// writeErr, if set, decides the outcome of each Write call.
	writeErr func(p []byte) error
	// maxWrite caps the bytes accepted per Write call (0 means no cap).
	maxWrite int
}

func newMockPort() *mockPort {
	return &mockPort{
		events:   make(chan readEvent, 64),
		closedCh: make(chan struct{}),
	}
}

func (m *mockPort) push(data ...[]byte) {
	for _, d := range data {
		m.events <- readEvent{data: d}
	}
}

func (m *mockPort) pushErr(err error) {
	m.events <- readEvent{err: err}
}

func (m *mockPort) Read(p []byte) (int, error) {
	var idle <-chan time.Time
	if m.idle > 0 {
		t := time.NewTimer(m.idle)
		defer t.Stop()
		idle = t.C
	}
	select {
	case <-m.closedCh:
		return 0, ErrPortClosed
	default:
	}
	select {
	case ev := <-m.events:
		if ev.err != nil {
			return 0, ev.err
		}
		return copy(p, ev.data), nil
	case <-m.closedCh:
		return 0, ErrPortClosed
	case <-idle:
		return 0, nil
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	select {
	case <-m.closedCh:
		return 0, ErrPortClosed
	default:
	}

	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)

	if m.writeErr != nil {
		if err := m.writeErr(p); err != nil {
			return 0, err
		}
	}
	if m.maxWrite > 0 && len(p) > m.maxWrite {
		return m.maxWrite, nil
	}
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.closeCount.Inc()
	m.closeOnce.Do(func() { close(m.closedCh) })
	return m.closeErr
}

func (m *mockPort) SetReadTimeout(d time.Duration) error {
	m.readTimeout.Store(d)
	return m.readTimeoutErr
}

func (m *mockPort) isClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

func (m *mockPort) written() [][]byte {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

type driverFunc func(d Driver, name string, line LineConfig, readTimeout time.Duration) (SerialPort, error)

// withDriver replaces the serial backend for the duration of the test.
func withDriver(t *testing.T, open driverFunc) {
	t.Helper()
	orig := openDriver
	openDriver = open
	t.Cleanup(func() { openDriver = orig })
}

// withMockDriver makes every open return port.
func withMockDriver(t *testing.T, port *mockPort) {
	withDriver(t, func(Driver, string, LineConfig, time.Duration) (SerialPort, error) {
		return port, nil
	})
}

// withPorts makes the platform report exactly the given interfaces.
func withPorts(t *testing.T, names ...string) {
	t.Helper()
	origDetailed, origNames := listDetailedPorts, listPortNames
	listDetailedPorts = func() ([]*enumerator.PortDetails, error) {
		out := make([]*enumerator.PortDetails, 0, len(names))
		for _, n := range names {
			out = append(out, &enumerator.PortDetails{Name: n})
		}
		return out, nil
	}
	listPortNames = func() ([]string, error) {
		return append([]string(nil), names...), nil
	}
	t.Cleanup(func() {
		listDetailedPorts, listPortNames = origDetailed, origNames
	})
}

func testConfig(candidates ...string) Config {
	cfg := DefaultConfig()
	cfg.CandidatePorts = candidates
	cfg.OpenTimeout = time.Second
	cfg.ReadErrorBackoff = time.Millisecond
	cfg.Log.Console = false
	return cfg
}

// openMock opens a session on name backed by a fresh mockPort and closes it
// when the test ends.
func openMock(t *testing.T, name string) (*Session, *mockPort) {
	t.Helper()
	mp := newMockPort()
	withMockDriver(t, mp)
	s, err := Open(t.Context(), PortIdentity{Name: name}, testConfig(name))
	if err != nil {
		t.Fatalf("Open(%s) error: %v", name, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mp
}

// collector records delivered chunks.
type collector struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (c *collector) consume(ch Chunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Chunk(nil), c.chunks...)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitClosed(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
