package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wsecho/internal/tracker"
)

type serverHarness struct {
	registry *tracker.Registry
	metrics  *fakeMetrics
	sink     *reportSink
	server   *Server
	http     *httptest.Server
}

func newServerHarness(t *testing.T, cfg ServerConfig) *serverHarness {
	t.Helper()
	h := &serverHarness{
		registry: tracker.NewRegistry(0),
		metrics:  newFakeMetrics(),
		sink:     &reportSink{},
	}
	h.server = NewServer(cfg, h.registry,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(h.metrics),
		WithReportSink(h.sink),
	)
	h.http = httptest.NewServer(h.server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.server.Stop(ctx)
		h.http.Close()
	})
	return h
}

func (h *serverHarness) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_EchoProbesAndClose(t *testing.T) {
	h := newServerHarness(t, DefaultServerConfig())
	c := dial(t, h.wsURL("/"))

	for _, seq := range []uint64{1, 2, 4, 5} {
		msg := probeJSON(seq)
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			t.Fatalf("write probe %d: %v", seq, err)
		}
		mt, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read echo %d: %v", seq, err)
		}
		if mt != websocket.TextMessage || string(data) != string(msg) {
			t.Errorf("echo = %d %q, want text %q", mt, data, msg)
		}
	}

	stats, ok := h.registry.Read(1)
	if !ok {
		t.Fatal("tracker for conn 1 not registered")
	}
	if stats.MessagesReceived != 4 || stats.TotalMissed != 1 {
		t.Errorf("stats = %+v, want 4 received, 1 missed", stats)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := c.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		t.Fatalf("write close: %v", err)
	}
	_, _, err := c.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read after close = %v, want close error", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "bye" {
		t.Errorf("close echo = %d %q, want 1000 bye", closeErr.Code, closeErr.Text)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(h.sink.all()) == 1 }) {
		t.Fatalf("reports = %d, want 1", len(h.sink.all()))
	}
	r := h.sink.all()[0]
	if r.TotalMissed != 1 || r.LossPercentage != 20.0 || r.Reason != ReasonClientClose {
		t.Errorf("report = %+v, want 1 missed, 20%% loss, client_close", r)
	}
	if !waitFor(t, time.Second, func() bool { return h.registry.Len() == 0 }) {
		t.Errorf("registry Len() = %d, want 0", h.registry.Len())
	}

	// Give a late cleanup path the chance to double-report.
	time.Sleep(50 * time.Millisecond)
	if got := len(h.sink.all()); got != 1 {
		t.Errorf("reports = %d after cleanup, want 1", got)
	}
}

func TestServer_BinaryAndPing(t *testing.T) {
	h := newServerHarness(t, DefaultServerConfig())
	c := dial(t, h.wsURL("/"))

	pongs := make(chan string, 1)
	c.SetPongHandler(func(data string) error {
		pongs <- data
		return nil
	})

	if err := c.WriteControl(websocket.PingMessage, []byte("hb-1"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := c.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	// The pong precedes the binary echo, so it is handled inside this read.
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if mt != websocket.BinaryMessage || string(data) != string(payload) {
		t.Errorf("echo = %d %v, want binary %v", mt, data, payload)
	}

	select {
	case got := <-pongs:
		if got != "hb-1" {
			t.Errorf("pong payload = %q, want hb-1", got)
		}
	default:
		t.Error("no pong received before binary echo")
	}
}

func TestServer_ConnectionsGetDistinctTrackers(t *testing.T) {
	h := newServerHarness(t, DefaultServerConfig())
	a := dial(t, h.wsURL("/"))
	b := dial(t, h.wsURL("/"))

	send := func(c *websocket.Conn, seqs ...uint64) {
		for _, seq := range seqs {
			c.WriteMessage(websocket.TextMessage, probeJSON(seq))
			if _, _, err := c.ReadMessage(); err != nil {
				t.Fatalf("read echo: %v", err)
			}
		}
	}
	send(a, 1, 2, 3)
	send(b, 1, 10)

	if h.registry.Len() != 2 {
		t.Fatalf("registry Len() = %d, want 2", h.registry.Len())
	}
	var missed []uint64
	for _, id := range []uint64{1, 2} {
		stats, ok := h.registry.Read(id)
		if !ok {
			t.Fatalf("tracker %d missing", id)
		}
		missed = append(missed, stats.TotalMissed)
	}
	if !(missed[0] == 0 && missed[1] == 8) && !(missed[0] == 8 && missed[1] == 0) {
		t.Errorf("missed per connection = %v, want 0 and 8", missed)
	}
}

func TestServer_HandshakeFailureRemovesTracker(t *testing.T) {
	h := newServerHarness(t, DefaultServerConfig())

	resp, err := http.Get(h.http.URL + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	if !waitFor(t, time.Second, func() bool { return h.metrics.handshakeFailures() == 1 }) {
		t.Fatal("handshake failure not recorded")
	}
	if got := h.registry.Len(); got != 0 {
		t.Errorf("registry Len() = %d, want 0", got)
	}
	if got := len(h.sink.all()); got != 0 {
		t.Errorf("reports = %d, want 0", got)
	}
}

func TestServer_OriginRejected(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AllowedOrigins = []string{"app.example.com"}
	h := newServerHarness(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example.net"}}
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/"), header)
	if err == nil {
		t.Fatal("dial with disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	header = http.Header{"Origin": []string{"https://app.example.com"}}
	c, _, err := websocket.DefaultDialer.Dial(h.wsURL("/"), header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	c.Close()
}

func TestServer_CustomPath(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Path = "/echo"
	h := newServerHarness(t, cfg)

	if _, _, err := websocket.DefaultDialer.Dial(h.wsURL("/other"), nil); err == nil {
		t.Error("dial on unknown path succeeded")
	}
	c := dial(t, h.wsURL("/echo"))
	c.WriteMessage(websocket.TextMessage, []byte("ping"))
	if _, data, err := c.ReadMessage(); err != nil || string(data) != "ping" {
		t.Errorf("echo = %q, %v", data, err)
	}
}

func TestServer_IdleTimeout(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	h := newServerHarness(t, cfg)

	c := dial(t, h.wsURL("/"))
	c.WriteMessage(websocket.TextMessage, probeJSON(1))
	if _, _, err := c.ReadMessage(); err != nil {
		t.Fatalf("read echo: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(h.sink.all()) == 1 }) {
		t.Fatal("idle connection was not closed")
	}
	if got := h.sink.all()[0].Reason; got != ReasonIdleTimeout {
		t.Errorf("Reason = %q, want %q", got, ReasonIdleTimeout)
	}
}

func TestServer_StartStopSendsGoingAway(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	registry := tracker.NewRegistry(0)
	sink := &reportSink{}
	srv := NewServer(cfg, registry,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReportSink(sink),
	)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if srv.Addr() == nil {
		t.Fatal("Addr() = nil after Start")
	}

	c := dial(t, "ws://"+srv.Addr().String()+"/")
	c.WriteMessage(websocket.TextMessage, probeJSON(7))
	if _, _, err := c.ReadMessage(); err != nil {
		t.Fatalf("read echo: %v", err)
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- srv.Stop(ctx)
	}()

	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read during shutdown = %v, want close 1001", err)
	}

	if err := <-stopped; err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	if registry.Len() != 0 {
		t.Errorf("registry Len() = %d after Stop, want 0", registry.Len())
	}
	reports := sink.all()
	if len(reports) != 1 || reports[0].Reason != ReasonShutdown {
		t.Errorf("reports = %+v, want one shutdown report", reports)
	}
}

func TestServer_RejectsAfterStop(t *testing.T) {
	h := newServerHarness(t, DefaultServerConfig())
	h.server.Stop(context.Background())

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/"), nil)
	if err == nil {
		t.Fatal("dial after Stop succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}
