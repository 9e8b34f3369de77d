package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/wsecho/internal/config"
	"github.com/rickgao/wsecho/internal/connection"
	"github.com/rickgao/wsecho/internal/probe"
	"github.com/rickgao/wsecho/internal/report"
)

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadAndValidate(path)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serverConfig(cfg config.ServerConfig) connection.ServerConfig {
	return connection.ServerConfig{
		ListenAddr:       cfg.ListenAddr,
		Path:             cfg.Path,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		MaxMessageSize:   cfg.MaxMessageSize,
		FrameQueueSize:   cfg.FrameQueueSize,
		AllowedOrigins:   cfg.AllowedOrigins,
	}
}

func writerConfig(cfg config.ReportsConfig) report.WriterConfig {
	return report.WriterConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}
}

func proberConfig(cfg config.ProbeConfig) probe.Config {
	return probe.Config{
		URL:              cfg.URL,
		Count:            cfg.Count,
		Interval:         cfg.Interval,
		PayloadSize:      cfg.PayloadSize,
		DrainTimeout:     cfg.DrainTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}
}
