package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr        = "127.0.0.1:8080"
	DefaultPath              = "/"
	DefaultReadBufferSize    = 4096
	DefaultWriteBufferSize   = 4096
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultFrameQueueSize    = 64
	DefaultReportEvery       = 100
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMetricsEnabled    = true
	DefaultMetricsListenAddr = "127.0.0.1:9090"
	DefaultMetricsPath       = "/metrics"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 5 * time.Second
	DefaultBufferSize        = 10000
	DefaultProbeURL          = "ws://127.0.0.1:8080/"
	DefaultProbeCount        = 1000
	DefaultProbeInterval     = 10 * time.Millisecond
	DefaultProbeDrainTimeout = 2 * time.Second
)

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = newInstanceID()
	}

	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Server.WriteBufferSize == 0 {
		c.Server.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.FrameQueueSize == 0 {
		c.Server.FrameQueueSize = DefaultFrameQueueSize
	}

	if c.Stats.ReportEvery == 0 {
		c.Stats.ReportEvery = DefaultReportEvery
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Enabled == nil {
		enabled := DefaultMetricsEnabled
		c.Metrics.Enabled = &enabled
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = DefaultMetricsListenAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	applyDBDefaults(&c.Database.Timescale)

	// Report writer defaults
	if c.Reports.BatchSize == 0 {
		c.Reports.BatchSize = DefaultBatchSize
	}
	if c.Reports.FlushInterval == 0 {
		c.Reports.FlushInterval = DefaultFlushInterval
	}
	if c.Reports.BufferSize == 0 {
		c.Reports.BufferSize = DefaultBufferSize
	}

	// Probe client defaults
	if c.Probe.URL == "" {
		c.Probe.URL = DefaultProbeURL
	}
	if c.Probe.Count == 0 {
		c.Probe.Count = DefaultProbeCount
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = DefaultProbeInterval
	}
	if c.Probe.DrainTimeout == 0 {
		c.Probe.DrainTimeout = DefaultProbeDrainTimeout
	}
	if c.Probe.HandshakeTimeout == 0 {
		c.Probe.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Probe.WriteTimeout == 0 {
		c.Probe.WriteTimeout = DefaultWriteTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
