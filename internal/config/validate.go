package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateAddr("server.listen_addr", c.Server.ListenAddr); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.ReadBufferSize < 0 || c.Server.WriteBufferSize < 0 {
		return errors.New("server.read_buffer_size and write_buffer_size must be >= 0")
	}
	if c.Server.HandshakeTimeout <= 0 {
		return errors.New("server.handshake_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be > 0")
	}
	if c.Server.IdleTimeout < 0 {
		return errors.New("server.idle_timeout must be >= 0")
	}
	if c.Server.MaxMessageSize < 0 {
		return errors.New("server.max_message_size must be >= 0")
	}
	if c.Server.FrameQueueSize < 1 {
		return errors.New("server.frame_queue_size must be >= 1")
	}

	if c.Stats.ReportEvery < 1 {
		return errors.New("stats.report_every must be >= 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.IsEnabled() {
		if err := validateAddr("metrics.listen_addr", c.Metrics.ListenAddr); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Reports.BatchSize < 1 {
		return errors.New("reports.batch_size must be >= 1")
	}
	if c.Reports.FlushInterval <= 0 {
		return errors.New("reports.flush_interval must be > 0")
	}
	if c.Reports.BufferSize < 1 {
		return errors.New("reports.buffer_size must be >= 1")
	}

	return c.Probe.Validate()
}

// Validate checks the probe client settings.
func (p *ProbeConfig) Validate() error {
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("probe.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("probe.url scheme must be ws or wss, got %q", u.Scheme)
	}
	if p.Count < 1 {
		return errors.New("probe.count must be >= 1")
	}
	if p.Interval < 0 {
		return errors.New("probe.interval must be >= 0")
	}
	if p.PayloadSize < 0 {
		return errors.New("probe.payload_size must be >= 0")
	}
	if p.DrainTimeout < 0 {
		return errors.New("probe.drain_timeout must be >= 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, db.Port)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s must be host:port, got %q", field, addr)
	}
	return nil
}
