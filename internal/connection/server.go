package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wsecho/internal/tracker"
)

// Server accepts WebSocket upgrades and runs a Session per connection.
type Server struct {
	cfg      ServerConfig
	registry *tracker.Registry
	opts     options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// Sessions run under ctx; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a server that registers connections in registry.
func NewServer(cfg ServerConfig, registry *tracker.Registry, opts ...Option) *Server {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		registry: registry,
		opts:     o,
		logger:   o.logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Handler returns an http.Handler serving upgrades on the configured path.
func (s *Server) Handler() http.Handler {
	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, s)
	return mux
}

// ServeHTTP upgrades the request and blocks until the session ends.
//
// The tracker is registered before the handshake so the connection is
// measurable from its first frame. A failed handshake removes it again.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		http.Error(w, ErrServerStopped.Error(), http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	id := s.registry.AllocateID()
	s.registry.Insert(id)
	logger := s.logger.With("conn_id", id)
	logger.Info("new websocket connection", "remote_addr", r.RemoteAddr)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.registry.Remove(id)
		s.opts.metrics.HandshakeFailed()
		logger.Error("error during websocket handshake", "error", err)
		return
	}

	conn := newWSConn(ws, s.cfg)
	sess := newSession(id, conn, s.registry, s.opts)
	sess.Serve(s.ctx)
}

// Start binds the listener and serves in the background. Sessions are
// cancelled when ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = httpSrv
	s.mu.Unlock()

	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server error", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.logger.Info("websocket server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops accepting connections, sends a going-away close to every open
// session, and waits for them to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping websocket server")

	s.mu.Lock()
	s.stopping = true
	httpSrv := s.httpSrv
	s.mu.Unlock()

	var shutdownErr error
	if httpSrv != nil {
		// Hijacked connections are not tracked by Shutdown.
		shutdownErr = httpSrv.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("websocket server stopped", "open_trackers", s.registry.Len())
	case <-ctx.Done():
		s.logger.Warn("websocket server stop timed out", "open_trackers", s.registry.Len())
		return ctx.Err()
	}
	return shutdownErr
}

// checkOrigin allows any origin unless AllowedOrigins is set, in which case
// the Origin header must match an entry by full origin or host.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
