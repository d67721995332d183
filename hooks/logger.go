// Package hooks provides production-ready Hook, Logger, metrics and progress
// Sink implementations.
package hooks

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
)

// ── slog ──────────────────────────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// ── zap ───────────────────────────────────────────────────────────────────────

// ZapLogger adapts a zap logger.  Fields are alternating keys and values.
type ZapLogger struct {
	log *zap.SugaredLogger
}

// NewZapLogger creates a logger backed by zap.
func NewZapLogger(l *zap.Logger) *ZapLogger { return &ZapLogger{log: l.Sugar()} }

func (z *ZapLogger) Debug(msg string, fields ...interface{}) { z.log.Debugw(msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...interface{})  { z.log.Infow(msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...interface{})  { z.log.Warnw(msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...interface{}) { z.log.Errorw(msg, fields...) }

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error { return z.log.Sync() }

// NewZap builds a zap logger from the logging section of cfg.
func NewZap(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("hooks: log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// ── zerolog ───────────────────────────────────────────────────────────────────

// ZerologLogger adapts a zerolog logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a logger backed by zerolog.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger { return &ZerologLogger{log: l} }

// NewZerolog returns a timestamped zerolog logger writing to w at the level
// named in cfg.  Console format is human readable.
func NewZerolog(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("hooks: log level: %w", err)
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func (z *ZerologLogger) Debug(msg string, fields ...interface{}) { z.log.Debug().Fields(fields).Msg(msg) }
func (z *ZerologLogger) Info(msg string, fields ...interface{})  { z.log.Info().Fields(fields).Msg(msg) }
func (z *ZerologLogger) Warn(msg string, fields ...interface{})  { z.log.Warn().Fields(fields).Msg(msg) }
func (z *ZerologLogger) Error(msg string, fields ...interface{}) { z.log.Error().Fields(fields).Msg(msg) }

var (
	_ core.Logger = (*SlogLogger)(nil)
	_ core.Logger = (*ZapLogger)(nil)
	_ core.Logger = (*ZerologLogger)(nil)
)
