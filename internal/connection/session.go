package connection

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rickgao/wsecho/internal/report"
	"github.com/rickgao/wsecho/internal/tracing"
	"github.com/rickgao/wsecho/internal/tracker"
)

// Session drives one accepted connection: it reads frames, echoes them,
// tracks probes, and releases the tracker exactly once when it ends.
type Session struct {
	id       uint64
	conn     Conn
	registry *tracker.Registry
	opts     options
	logger   *slog.Logger

	openedAt time.Time
	state    atomic.Int32

	cleanupOnce sync.Once
}

// NewSession creates a session for a connection whose tracker is already
// registered under id.
func NewSession(id uint64, conn Conn, registry *tracker.Registry, opts ...Option) *Session {
	return newSession(id, conn, registry, buildOptions(opts))
}

func newSession(id uint64, conn Conn, registry *tracker.Registry, o options) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		opts:     o,
		logger:   o.logger.With("conn_id", id),
	}
}

// ID returns the connection id.
func (s *Session) ID() uint64 { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Serve runs the session until the peer closes, the transport fails, or ctx
// is cancelled. On cancellation the peer gets a 1001 close frame. Serve
// returns the transport error that ended the session, if any.
func (s *Session) Serve(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "ws.session",
		attribute.Int64("conn_id", int64(s.id)),
		attribute.String("remote_addr", s.conn.RemoteAddr()),
	)
	defer span.End()

	s.openedAt = time.Now()
	s.setState(StateOpen)
	s.opts.metrics.ConnectionOpened()
	s.logger.Info("websocket connection established", "remote_addr", s.conn.RemoteAddr())

	reason := ReasonEOF
	defer func() {
		span.SetAttributes(attribute.String("close_reason", reason))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		s.terminate(reason)
	}()

	for {
		frame, readErr := s.conn.ReadFrame(ctx)
		if readErr != nil {
			switch {
			case ctx.Err() != nil:
				reason = ReasonShutdown
				s.goingAway()
				return nil
			case errors.Is(readErr, ErrSessionClosed):
				return nil
			case isTimeout(readErr):
				reason = ReasonIdleTimeout
				s.logger.Info("connection idle, closing", "error", readErr)
				return readErr
			default:
				reason = ReasonReadError
				s.logger.Error("error processing message", "error", readErr)
				return readErr
			}
		}

		done, writeErr := s.dispatch(frame)
		if writeErr != nil {
			if done {
				reason = ReasonClientClose
			} else {
				reason = ReasonWriteError
			}
			s.logger.Error("error sending frame", "kind", frame.Kind, "error", writeErr)
			return writeErr
		}
		if done {
			reason = ReasonClientClose
			return nil
		}
	}
}

// dispatch handles one inbound frame. done reports that the session must
// stop after this frame.
func (s *Session) dispatch(f Frame) (done bool, err error) {
	s.opts.metrics.FrameReceived(f.Kind.String())

	switch f.Kind {
	case FrameText:
		if probe, ok := tracker.ParseProbe(f.Data); ok {
			s.track(probe)
		} else {
			s.logger.Debug("text message is not a probe", "bytes", len(f.Data))
		}
		return false, s.send(Frame{Kind: FrameText, Data: f.Data})

	case FrameBinary:
		return false, s.send(Frame{Kind: FrameBinary, Data: f.Data})

	case FramePing:
		return false, s.send(Frame{Kind: FramePong, Data: f.Data})

	case FramePong:
		s.logger.Info("received pong", "bytes", len(f.Data))
		return false, nil

	case FrameClose:
		s.setState(StateClosing)
		code, text := 0, ""
		if f.Close != nil {
			code, text = f.Close.Code, f.Close.Reason
		}
		s.logger.Info("received close frame", "code", code, "reason", text)

		if tr, ok := s.registry.Remove(s.id); ok {
			s.finalize(tr.Stats(), ReasonClientClose)
		}

		sendErr := s.send(Frame{Kind: FrameClose, Close: f.Close})
		s.setState(StateClosed)
		return true, sendErr

	default:
		s.logger.Debug("ignoring frame", "kind", f.Kind, "bytes", len(f.Data))
		return false, nil
	}
}

// track feeds a probe to the registry and logs periodic stats.
func (s *Session) track(p tracker.Probe) {
	res := s.registry.Update(s.id, p.Seq)
	if !res.Found {
		return
	}
	s.opts.metrics.ProbeTracked(res.Missed)

	if res.Missed > 0 {
		s.logger.Debug("sequence gap", "seq", p.Seq, "missed", res.Missed)
	}
	if res.ReportDue {
		s.logger.Info("connection stats",
			"stats", res.Stats.Summary(),
			"received", res.Stats.MessagesReceived,
			"missed", res.Stats.TotalMissed,
			"loss_pct", res.Stats.LossPercentage,
		)
	}
}

func (s *Session) send(f Frame) error {
	if err := s.conn.WriteFrame(f); err != nil {
		return err
	}
	s.opts.metrics.FrameSent(f.Kind.String())
	return nil
}

// goingAway tells the peer the server is shutting down.
func (s *Session) goingAway() {
	s.setState(StateClosing)
	err := s.send(Frame{Kind: FrameClose, Close: &CloseInfo{Code: CloseGoingAway, Reason: "server shutting down"}})
	if err != nil {
		s.logger.Debug("failed to send going-away close", "error", err)
	}
}

// terminate removes the tracker if still present, logs its final stats, and
// closes the transport. Runs at most once.
func (s *Session) terminate(reason string) {
	s.cleanupOnce.Do(func() {
		if tr, ok := s.registry.Remove(s.id); ok {
			s.finalize(tr.Stats(), reason)
		}
		s.conn.Close()
		s.setState(StateClosed)
		s.opts.metrics.ConnectionClosed(reason)
		s.logger.Info("websocket connection closed", "reason", reason, "duration", time.Since(s.openedAt))
	})
}

// finalize logs final stats and submits the session report.
func (s *Session) finalize(stats tracker.Stats, reason string) {
	s.logger.Info("final stats for connection",
		"stats", stats.Summary(),
		"received", stats.MessagesReceived,
		"missed", stats.TotalMissed,
		"loss_pct", stats.LossPercentage,
	)

	if s.opts.reports == nil {
		return
	}
	r := report.SessionReport{
		ID:               report.NewID(),
		InstanceID:       s.opts.instanceID,
		ConnID:           s.id,
		RemoteAddr:       s.conn.RemoteAddr(),
		OpenedAt:         s.openedAt,
		ClosedAt:         time.Now(),
		Reason:           reason,
		MessagesReceived: stats.MessagesReceived,
		TotalMissed:      stats.TotalMissed,
		LastSequence:     stats.LastSequence,
		LossPercentage:   stats.LossPercentage,
	}
	if !s.opts.reports.Submit(r) {
		s.logger.Warn("session report rejected")
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
