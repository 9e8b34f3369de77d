package connection

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/wsecho/internal/tracker"
)

type sessionHarness struct {
	registry *tracker.Registry
	conn     *fakeConn
	metrics  *fakeMetrics
	sink     *reportSink
	logs     *bytes.Buffer
	session  *Session
}

func newHarness(frames ...Frame) *sessionHarness {
	h := &sessionHarness{
		registry: tracker.NewRegistry(0),
		conn:     newFakeConn(frames...),
		metrics:  newFakeMetrics(),
		sink:     &reportSink{},
		logs:     &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	id := h.registry.AllocateID()
	h.registry.Insert(id)
	h.session = NewSession(id, h.conn, h.registry,
		WithLogger(logger),
		WithMetrics(h.metrics),
		WithReportSink(h.sink),
		WithInstanceID("echo-test"),
	)
	return h
}

func (h *sessionHarness) finalStatsLogged() int {
	return strings.Count(h.logs.String(), "final stats for connection")
}

func TestSession_EchoAndTrackContiguous(t *testing.T) {
	h := newHarness(
		probeFrame(1), probeFrame(2), probeFrame(3), probeFrame(4), probeFrame(5),
		closeFrame(1000, "done"),
	)

	if err := h.session.Serve(context.Background()); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	out := h.conn.written()
	if len(out) != 6 {
		t.Fatalf("frames written = %d, want 6", len(out))
	}
	for i := 0; i < 5; i++ {
		if out[i].Kind != FrameText || string(out[i].Data) != string(probeJSON(uint64(i+1))) {
			t.Errorf("frame %d = %s %q, want echoed probe", i, out[i].Kind, out[i].Data)
		}
	}

	reports := h.sink.all()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.MessagesReceived != 5 || r.TotalMissed != 0 || r.LastSequence != 5 {
		t.Errorf("report = %+v, want 5 received, 0 missed, last 5", r)
	}
	if r.LossPercentage != 0 {
		t.Errorf("LossPercentage = %v, want 0", r.LossPercentage)
	}
	if r.Reason != ReasonClientClose {
		t.Errorf("Reason = %q, want %q", r.Reason, ReasonClientClose)
	}
	if r.InstanceID != "echo-test" {
		t.Errorf("InstanceID = %q, want echo-test", r.InstanceID)
	}
}

func TestSession_GapDetected(t *testing.T) {
	h := newHarness(probeFrame(1), probeFrame(2), probeFrame(4), probeFrame(5), closeFrame(1000, ""))

	h.session.Serve(context.Background())

	reports := h.sink.all()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.MessagesReceived != 4 {
		t.Errorf("MessagesReceived = %d, want 4", r.MessagesReceived)
	}
	if r.TotalMissed != 1 {
		t.Errorf("TotalMissed = %d, want 1", r.TotalMissed)
	}
	if r.LossPercentage != 20.0 {
		t.Errorf("LossPercentage = %v, want 20", r.LossPercentage)
	}
	if h.metrics.missed != 1 || h.metrics.probes != 4 {
		t.Errorf("metrics missed=%d probes=%d, want 1 and 4", h.metrics.missed, h.metrics.probes)
	}
	if !strings.Contains(h.logs.String(), "Packet Loss Percentage: 20.00%") {
		t.Error("final stats summary not logged")
	}
}

func TestSession_NonProbeTextEchoedUntracked(t *testing.T) {
	h := newHarness(
		Frame{Kind: FrameText, Data: []byte("hello")},
		Frame{Kind: FrameText, Data: []byte(`{"seq":1}`)},
		closeFrame(1000, ""),
	)

	h.session.Serve(context.Background())

	out := h.conn.written()
	if len(out) != 3 {
		t.Fatalf("frames written = %d, want 3", len(out))
	}
	if string(out[0].Data) != "hello" || string(out[1].Data) != `{"seq":1}` {
		t.Errorf("echoes = %q, %q", out[0].Data, out[1].Data)
	}

	reports := h.sink.all()
	if len(reports) != 1 || reports[0].MessagesReceived != 0 {
		t.Errorf("reports = %+v, want one report with 0 received", reports)
	}
}

func TestSession_BinaryEchoed(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10}
	h := newHarness(Frame{Kind: FrameBinary, Data: payload}, closeFrame(1000, ""))

	h.session.Serve(context.Background())

	out := h.conn.written()
	if out[0].Kind != FrameBinary || !bytes.Equal(out[0].Data, payload) {
		t.Errorf("first frame = %s %v, want binary echo", out[0].Kind, out[0].Data)
	}
	if got := h.registry.Len(); got != 0 {
		t.Errorf("registry Len() = %d, want 0", got)
	}
}

func TestSession_PingAnsweredPongIgnored(t *testing.T) {
	h := newHarness(
		Frame{Kind: FramePing, Data: []byte("hb")},
		Frame{Kind: FramePong, Data: []byte("late")},
		closeFrame(1000, ""),
	)

	h.session.Serve(context.Background())

	out := h.conn.written()
	if len(out) != 2 {
		t.Fatalf("frames written = %d, want 2 (pong + close)", len(out))
	}
	if out[0].Kind != FramePong || string(out[0].Data) != "hb" {
		t.Errorf("reply = %s %q, want pong hb", out[0].Kind, out[0].Data)
	}
	if out[1].Kind != FrameClose {
		t.Errorf("second frame = %s, want close", out[1].Kind)
	}
	if !strings.Contains(h.logs.String(), "received pong") {
		t.Error("pong not logged")
	}
}

func TestSession_CloseEchoedAndFinalStatsOnce(t *testing.T) {
	h := newHarness(probeFrame(1), probeFrame(3), closeFrame(1000, "bye"))

	h.session.Serve(context.Background())

	out := h.conn.written()
	last := out[len(out)-1]
	if last.Kind != FrameClose || last.Close == nil || last.Close.Code != 1000 || last.Close.Reason != "bye" {
		t.Errorf("last frame = %+v, want close 1000 bye", last)
	}
	if got := h.finalStatsLogged(); got != 1 {
		t.Errorf("final stats logged %d times, want 1", got)
	}
	reports := h.sink.all()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if r := reports[0]; r.MessagesReceived != 2 || r.TotalMissed != 1 || r.LastSequence != 3 || r.Reason != ReasonClientClose {
		t.Errorf("report = %+v, want received 2, missed 1, last 3, reason %s", r, ReasonClientClose)
	}
	if !strings.Contains(h.logs.String(), "Total Messages Missed: 1") {
		t.Error("final stats do not reflect the removed tracker")
	}
	if _, ok := h.registry.Read(h.session.ID()); ok {
		t.Error("tracker still registered after close")
	}
	if h.session.State() != StateClosed {
		t.Errorf("State() = %s, want closed", h.session.State())
	}
	if h.conn.closeCount() != 1 {
		t.Errorf("Close() called %d times, want 1", h.conn.closeCount())
	}
}

func TestSession_CloseWithoutStatus(t *testing.T) {
	h := newHarness(Frame{Kind: FrameClose})

	h.session.Serve(context.Background())

	out := h.conn.written()
	if len(out) != 1 || out[0].Kind != FrameClose || out[0].Close != nil {
		t.Errorf("frames = %+v, want one close without status", out)
	}
}

func TestSession_FramesAfterCloseIgnored(t *testing.T) {
	h := newHarness(closeFrame(1000, ""), probeFrame(1), Frame{Kind: FrameText, Data: []byte("late")})

	h.session.Serve(context.Background())

	if got := len(h.conn.written()); got != 1 {
		t.Errorf("frames written = %d, want 1", got)
	}
}

func TestSession_ReadErrorReleasesTracker(t *testing.T) {
	h := newHarness(probeFrame(1), probeFrame(2))
	h.conn.in <- inbound{err: errors.New("connection reset by peer")}

	err := h.session.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() = nil, want read error")
	}

	if got := h.registry.Len(); got != 0 {
		t.Errorf("registry Len() = %d, want 0", got)
	}
	reports := h.sink.all()
	if len(reports) != 1 || reports[0].Reason != ReasonReadError || reports[0].MessagesReceived != 2 {
		t.Errorf("reports = %+v, want one read_error report with 2 received", reports)
	}
	if got := h.finalStatsLogged(); got != 1 {
		t.Errorf("final stats logged %d times, want 1", got)
	}
}

func TestSession_StreamEndReleasesTracker(t *testing.T) {
	h := newHarness(probeFrame(1))
	close(h.conn.in)

	if err := h.session.Serve(context.Background()); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if got := h.registry.Len(); got != 0 {
		t.Errorf("registry Len() = %d, want 0", got)
	}
	if len(h.metrics.closed) != 1 || h.metrics.closed[0] != ReasonEOF {
		t.Errorf("closed reasons = %v, want [eof]", h.metrics.closed)
	}
}

func TestSession_WriteErrorTerminates(t *testing.T) {
	h := newHarness(probeFrame(1), probeFrame(2))
	h.conn.writeErr = errors.New("broken pipe")

	err := h.session.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() = nil, want write error")
	}

	reports := h.sink.all()
	if len(reports) != 1 || reports[0].Reason != ReasonWriteError {
		t.Errorf("reports = %+v, want one write_error report", reports)
	}
	if reports[0].MessagesReceived != 1 {
		t.Errorf("MessagesReceived = %d, want 1 (second probe never read)", reports[0].MessagesReceived)
	}
}

func TestSession_ContextCancelSendsGoingAway(t *testing.T) {
	h := newHarness(probeFrame(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.session.Serve(ctx) }()

	if !waitFor(t, time.Second, func() bool { return len(h.conn.written()) == 1 }) {
		t.Fatal("probe was not echoed")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	out := h.conn.written()
	last := out[len(out)-1]
	if last.Kind != FrameClose || last.Close == nil || last.Close.Code != CloseGoingAway {
		t.Errorf("last frame = %+v, want close 1001", last)
	}
	reports := h.sink.all()
	if len(reports) != 1 || reports[0].Reason != ReasonShutdown {
		t.Errorf("reports = %+v, want one shutdown report", reports)
	}
}

func TestSession_PeriodicStats(t *testing.T) {
	frames := make([]Frame, 0, 151)
	for seq := uint64(1); seq <= 150; seq++ {
		frames = append(frames, probeFrame(seq))
	}
	frames = append(frames, closeFrame(1000, ""))
	h := newHarness(frames...)

	h.session.Serve(context.Background())

	if got := strings.Count(h.logs.String(), `msg="connection stats"`); got != 1 {
		t.Errorf("periodic stats logged %d times, want 1", got)
	}
	if !strings.Contains(h.logs.String(), "Total Messages Received: 100") {
		t.Error("periodic stats did not report 100 received")
	}
}

func TestSession_MetricsCounted(t *testing.T) {
	h := newHarness(
		probeFrame(1),
		Frame{Kind: FrameBinary, Data: []byte{1}},
		Frame{Kind: FramePing},
		closeFrame(1000, ""),
	)

	h.session.Serve(context.Background())

	m := h.metrics
	if m.opened != 1 {
		t.Errorf("opened = %d, want 1", m.opened)
	}
	if m.received["text"] != 1 || m.received["binary"] != 1 || m.received["ping"] != 1 || m.received["close"] != 1 {
		t.Errorf("received = %v", m.received)
	}
	if m.sent["text"] != 1 || m.sent["binary"] != 1 || m.sent["pong"] != 1 || m.sent["close"] != 1 {
		t.Errorf("sent = %v", m.sent)
	}
	if len(m.closed) != 1 || m.closed[0] != ReasonClientClose {
		t.Errorf("closed = %v, want [client_close]", m.closed)
	}
}

func TestFrameKind_String(t *testing.T) {
	tests := map[FrameKind]string{
		FrameText:     "text",
		FrameBinary:   "binary",
		FramePing:     "ping",
		FramePong:     "pong",
		FrameClose:    "close",
		FrameRaw:      "raw",
		FrameKind(99): "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("FrameKind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
}
