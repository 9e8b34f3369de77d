package config

import "time"

// Config is the root configuration for an echo server instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Stats    StatsConfig    `yaml:"stats"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Database DatabaseConfig `yaml:"database"`
	Reports  ReportsConfig  `yaml:"reports"`
	Probe    ProbeConfig    `yaml:"probe"`
}

// InstanceConfig identifies this server. An empty ID is replaced with a UUID.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	Path             string        `yaml:"path"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`     // 0 = wait forever
	MaxMessageSize   int64         `yaml:"max_message_size"` // 0 = unlimited
	FrameQueueSize   int           `yaml:"frame_queue_size"`
	AllowedOrigins   []string      `yaml:"allowed_origins"` // empty = any origin
}

// StatsConfig controls periodic loss reporting.
type StatsConfig struct {
	ReportEvery uint64 `yaml:"report_every"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds Prometheus and health endpoint settings.
type MetricsConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// IsEnabled reports whether the metrics server should run.
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return DefaultMetricsEnabled
	}
	return *m.Enabled
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DatabaseConfig holds the TimescaleDB connection used for session reports.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ReportsConfig holds session report writer settings.
type ReportsConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// ProbeConfig holds defaults for the probe client.
type ProbeConfig struct {
	URL              string        `yaml:"url"`
	Count            int           `yaml:"count"`
	Interval         time.Duration `yaml:"interval"`
	PayloadSize      int           `yaml:"payload_size"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}
