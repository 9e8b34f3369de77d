package connection

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/wsecho/internal/report"
)

// Errors
var (
	ErrSessionClosed = errors.New("session closed")
	ErrServerStopped = errors.New("server stopped")
)

// FrameKind identifies the type of a WebSocket frame.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
	FramePing
	FramePong
	FrameClose
	FrameRaw // anything the transport could not classify
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	case FrameRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Close status codes the server sends itself.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// CloseInfo is the status carried by a close frame.
type CloseInfo struct {
	Code   int
	Reason string
}

// Frame is a single typed message crossing the transport boundary.
type Frame struct {
	Kind FrameKind
	Data []byte

	// Close is set for close frames that carried a status. Nil means the
	// peer sent no status code.
	Close *CloseInfo

	ReceivedAt time.Time
}

// State is a session's lifecycle position.
type State int32

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons reported to metrics and session reports.
const (
	ReasonClientClose = "client_close"
	ReasonReadError   = "read_error"
	ReasonWriteError  = "write_error"
	ReasonIdleTimeout = "idle_timeout"
	ReasonShutdown    = "shutdown"
	ReasonEOF         = "eof"
)

// ServerConfig configures the WebSocket listener and its sessions.
type ServerConfig struct {
	ListenAddr       string        // host:port, port 0 picks a free port
	Path             string        // HTTP path that accepts upgrades
	ReadBufferSize   int           // gorilla read buffer
	WriteBufferSize  int           // gorilla write buffer
	HandshakeTimeout time.Duration // upgrade deadline
	WriteTimeout     time.Duration // deadline per outbound frame
	IdleTimeout      time.Duration // read deadline, 0 = none
	MaxMessageSize   int64         // 0 = unlimited
	FrameQueueSize   int           // frames buffered between reader and session
	AllowedOrigins   []string      // empty = any origin
}

// DefaultServerConfig returns the reference listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       "127.0.0.1:8080",
		Path:             "/",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		FrameQueueSize:   64,
	}
}

// Metrics receives connection events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed(reason string)
	HandshakeFailed()
	FrameReceived(kind string)
	FrameSent(kind string)
	ProbeTracked(missed uint64)
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened()       {}
func (nopMetrics) ConnectionClosed(string) {}
func (nopMetrics) HandshakeFailed()        {}
func (nopMetrics) FrameReceived(string)    {}
func (nopMetrics) FrameSent(string)        {}
func (nopMetrics) ProbeTracked(uint64)     {}

// Option configures a Server or Session.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	metrics    Metrics
	reports    report.Sink
	instanceID string
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithReportSink sets where final session reports go.
func WithReportSink(sink report.Sink) Option {
	return func(o *options) {
		o.reports = sink
	}
}

// WithInstanceID stamps session reports with the server instance.
func WithInstanceID(id string) Option {
	return func(o *options) {
		o.instanceID = id
	}
}
