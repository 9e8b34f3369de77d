package connection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/wsecho/internal/report"
)

// fakeConn is an in-memory Conn fed from a channel.
type fakeConn struct {
	in chan inbound

	mu       sync.Mutex
	out      []Frame
	writeErr error
	closed   int
}

func newFakeConn(frames ...Frame) *fakeConn {
	c := &fakeConn{in: make(chan inbound, len(frames)+8)}
	for _, f := range frames {
		c.in <- inbound{frame: f}
	}
	return c
}

func (c *fakeConn) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case in, ok := <-c.in:
		if !ok {
			return Frame{}, ErrSessionClosed
		}
		return in.frame, in.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.out = append(c.out, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "192.0.2.1:40000" }

func (c *fakeConn) written() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.out...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeMetrics records connection events.
type fakeMetrics struct {
	mu              sync.Mutex
	opened          int
	handshakeFailed int
	closed          []string
	received        map[string]int
	sent            map[string]int
	missed          uint64
	probes          int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{received: map[string]int{}, sent: map[string]int{}}
}

func (m *fakeMetrics) ConnectionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *fakeMetrics) ConnectionClosed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, reason)
}

func (m *fakeMetrics) HandshakeFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handshakeFailed++
}

func (m *fakeMetrics) FrameReceived(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[kind]++
}

func (m *fakeMetrics) FrameSent(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[kind]++
}

func (m *fakeMetrics) ProbeTracked(missed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	m.missed += missed
}

func (m *fakeMetrics) handshakeFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshakeFailed
}

// reportSink collects submitted reports.
type reportSink struct {
	mu      sync.Mutex
	reports []report.SessionReport
}

func (s *reportSink) Submit(r report.SessionReport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return true
}

func (s *reportSink) all() []report.SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report.SessionReport(nil), s.reports...)
}

func probeFrame(seq uint64) Frame {
	return Frame{Kind: FrameText, Data: probeJSON(seq)}
}

func probeJSON(seq uint64) []byte {
	return []byte(fmt.Sprintf(`{"seq":%d,"ts":%d}`, seq, 1700000000000+seq))
}

func closeFrame(code int, reason string) Frame {
	return Frame{Kind: FrameClose, Close: &CloseInfo{Code: code, Reason: reason}}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
