package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wsecho/internal/tracker"
)

// Config holds prober settings.
type Config struct {
	URL              string
	Count            int
	Interval         time.Duration
	PayloadSize      int // 0 = unpadded
	DrainTimeout     time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://127.0.0.1:8080/",
		Count:            1000,
		Interval:         10 * time.Millisecond,
		DrainTimeout:     2 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// ErrInvalidCount is returned by Run when Count is below 1.
var ErrInvalidCount = errors.New("probe count must be >= 1")

// Result summarizes one probe run.
type Result struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Sent      int       `json:"sent"`
	Received  int       `json:"received"`
	LossPct   float64   `json:"loss_pct"`
	AvgRTTMs  float64   `json:"avg_rtt_ms"`
	MinRTTMs  float64   `json:"min_rtt_ms"`
	MaxRTTMs  float64   `json:"max_rtt_ms"`
	JitterMs  float64   `json:"jitter_ms"`
	EchoGaps  uint64    `json:"echo_gaps"`
}

// Prober runs probe sessions against an echo endpoint.
type Prober struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Prober.
func New(cfg Config, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{cfg: cfg, logger: logger}
}

// run is the mutable state of one Run, shared with the read goroutine.
type run struct {
	mu       sync.Mutex
	sentAt   map[uint64]time.Time // outstanding probes
	rtts     []time.Duration
	echoes   *tracker.Tracker
	expected int
	complete chan struct{}
}

// Run dials the endpoint, sends cfg.Count probes, and waits up to
// DrainTimeout for outstanding echoes. A partial Result is returned with
// any error that cut the run short.
func (p *Prober) Run(ctx context.Context) (Result, error) {
	res := Result{Timestamp: time.Now().UTC(), Target: p.cfg.URL}
	if p.cfg.Count < 1 {
		return res, fmt.Errorf("%w, got %d", ErrInvalidCount, p.cfg.Count)
	}

	dialer := websocket.Dialer{HandshakeTimeout: p.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return res, fmt.Errorf("dial %s: %w", p.cfg.URL, err)
	}
	defer conn.Close()

	p.logger.Debug("probe connected", "url", p.cfg.URL, "count", p.cfg.Count)

	r := &run{
		sentAt:   make(map[uint64]time.Time, p.cfg.Count),
		echoes:   tracker.New(),
		expected: p.cfg.Count,
		complete: make(chan struct{}),
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		p.readLoop(conn, r)
	}()

	sent, sendErr := p.sendLoop(ctx, conn, r)
	res.Sent = sent

	if sendErr == nil {
		select {
		case <-r.complete:
		case <-time.After(p.cfg.DrainTimeout):
			p.logger.Debug("drain timeout, echoes outstanding")
		case <-ctx.Done():
			sendErr = ctx.Err()
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe complete")
	conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	select {
	case <-readDone:
	case <-time.After(time.Second):
		conn.Close()
		<-readDone
	}

	r.mu.Lock()
	summarize(&res, r.rtts, r.echoes.TotalMissed())
	r.mu.Unlock()

	return res, sendErr
}

func (p *Prober) sendLoop(ctx context.Context, conn *websocket.Conn, r *run) (int, error) {
	// A zero interval sends back to back.
	var tick <-chan time.Time
	if p.cfg.Interval > 0 {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	sent := 0
	for seq := uint64(1); seq <= uint64(p.cfg.Count); seq++ {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if seq > 1 && tick != nil {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-tick:
			}
		}

		now := time.Now()
		data, err := tracker.Probe{Seq: seq, Ts: uint64(now.UnixMilli())}.Marshal(p.cfg.PayloadSize)
		if err != nil {
			return sent, fmt.Errorf("encode probe %d: %w", seq, err)
		}

		r.mu.Lock()
		r.sentAt[seq] = now
		r.mu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return sent, fmt.Errorf("send probe %d: %w", seq, err)
		}
		sent++
	}
	return sent, nil
}

// readLoop matches echoes to their send times until the connection ends.
func (p *Prober) readLoop(conn *websocket.Conn, r *run) {
	for {
		mt, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				p.logger.Debug("probe read ended", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		echo, ok := tracker.ParseProbe(data)
		if !ok {
			continue
		}

		r.mu.Lock()
		if sentAt, ok := r.sentAt[echo.Seq]; ok {
			delete(r.sentAt, echo.Seq)
			r.rtts = append(r.rtts, receivedAt.Sub(sentAt))
			r.echoes.Update(echo.Seq)
		}
		done := len(r.rtts) == r.expected
		r.mu.Unlock()

		if done {
			close(r.complete)
		}
	}
}

// summarize fills the derived fields of res from RTTs in arrival order.
func summarize(res *Result, rtts []time.Duration, gaps uint64) {
	res.Received = len(rtts)
	res.EchoGaps = gaps
	if res.Sent > 0 {
		res.LossPct = float64(res.Sent-res.Received) / float64(res.Sent) * 100
		if res.LossPct < 0 {
			res.LossPct = 0
		}
	}
	if len(rtts) == 0 {
		return
	}

	var total, jitter float64
	minMs, maxMs := math.Inf(1), math.Inf(-1)
	for i, d := range rtts {
		ms := float64(d) / float64(time.Millisecond)
		total += ms
		minMs = math.Min(minMs, ms)
		maxMs = math.Max(maxMs, ms)
		if i > 0 {
			prev := float64(rtts[i-1]) / float64(time.Millisecond)
			jitter += math.Abs(ms - prev)
		}
	}

	res.AvgRTTMs = total / float64(len(rtts))
	res.MinRTTMs = minMs
	res.MaxRTTMs = maxMs
	if len(rtts) > 1 {
		res.JitterMs = jitter / float64(len(rtts)-1)
	}
}
