package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a WebSocket connection as seen by a Session.
type Conn interface {
	// ReadFrame blocks until the next inbound frame, a transport error, or
	// ctx cancellation. Frames arrive in wire order, control frames included.
	ReadFrame(ctx context.Context) (Frame, error)

	// WriteFrame sends one frame. Only one goroutine may write at a time.
	WriteFrame(f Frame) error

	// Close tears down the underlying connection without a close handshake.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() string
}

type inbound struct {
	frame Frame
	err   error
}

// wsConn adapts a gorilla connection to Conn.
//
// gorilla only returns data messages from ReadMessage and reports control
// frames through handlers. Both paths run on the read goroutine and feed a
// single channel, which keeps control and data frames in arrival order.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	idleTimeout  time.Duration

	inbound chan inbound
	done    chan struct{}

	// closeSeen is only touched by the read goroutine.
	closeSeen bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, cfg ServerConfig) *wsConn {
	queue := cfg.FrameQueueSize
	if queue < 1 {
		queue = 1
	}

	c := &wsConn{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		idleTimeout:  cfg.IdleTimeout,
		inbound:      make(chan inbound, queue),
		done:         make(chan struct{}),
	}

	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	// Handlers must return nil: gorilla treats a handler error as fatal to
	// the read side. The close handler also suppresses gorilla's automatic
	// close reply so the session decides what to send back.
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline()
		c.push(inbound{frame: Frame{Kind: FramePing, Data: []byte(data), ReceivedAt: time.Now()}})
		return nil
	})
	conn.SetPongHandler(func(data string) error {
		c.extendDeadline()
		c.push(inbound{frame: Frame{Kind: FramePong, Data: []byte(data), ReceivedAt: time.Now()}})
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		c.closeSeen = true
		f := Frame{Kind: FrameClose, ReceivedAt: time.Now()}
		if code != websocket.CloseNoStatusReceived {
			f.Close = &CloseInfo{Code: code, Reason: text}
		}
		c.push(inbound{frame: f})
		return nil
	})

	c.extendDeadline()
	go c.readLoop()

	return c
}

// ReadFrame returns the next inbound frame.
func (c *wsConn) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case in, ok := <-c.inbound:
		if !ok {
			return Frame{}, ErrSessionClosed
		}
		if in.err != nil {
			return Frame{}, in.err
		}
		return in.frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// WriteFrame sends f with the configured write deadline.
func (c *wsConn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)

	switch f.Kind {
	case FrameText, FrameBinary:
		msgType := websocket.TextMessage
		if f.Kind == FrameBinary {
			msgType = websocket.BinaryMessage
		}
		c.conn.SetWriteDeadline(deadline)
		return c.conn.WriteMessage(msgType, f.Data)
	case FramePing:
		return c.conn.WriteControl(websocket.PingMessage, f.Data, deadline)
	case FramePong:
		return c.conn.WriteControl(websocket.PongMessage, f.Data, deadline)
	case FrameClose:
		return c.conn.WriteControl(websocket.CloseMessage, closePayload(f.Close), deadline)
	default:
		return fmt.Errorf("write %s frame: unsupported kind", f.Kind)
	}
}

// Close closes the connection. Safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readLoop reads data messages until the connection fails or closes.
func (c *wsConn) readLoop() {
	defer close(c.inbound)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			// A close frame was already queued by the close handler.
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && c.closeSeen {
				return
			}
			c.push(inbound{err: err})
			return
		}

		c.extendDeadline()
		if !c.push(inbound{frame: Frame{Kind: kindOf(msgType), Data: data, ReceivedAt: time.Now()}}) {
			return
		}
	}
}

// push blocks until the session takes the frame or the conn is closed.
func (c *wsConn) push(in inbound) bool {
	select {
	case c.inbound <- in:
		return true
	case <-c.done:
		return false
	}
}

func (c *wsConn) extendDeadline() {
	if c.idleTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
}

func kindOf(msgType int) FrameKind {
	switch msgType {
	case websocket.TextMessage:
		return FrameText
	case websocket.BinaryMessage:
		return FrameBinary
	default:
		return FrameRaw
	}
}

// closePayload encodes a close status. A nil status sends an empty body.
func closePayload(info *CloseInfo) []byte {
	if info == nil || info.Code == websocket.CloseNoStatusReceived {
		return []byte{}
	}
	return websocket.FormatCloseMessage(info.Code, info.Reason)
}
