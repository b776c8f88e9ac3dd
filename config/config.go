// This package defines a common config struct which can be used by any subsystem within roster.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Debug                   bool
	RootDir                 string
	ParticipantCacheTTLSec  int64
	OnlineUpdateIntervalSec int64
	OnlineExpireSec         int64
	KickBanHorizonSec       int64
	KickReaddDelayMs        int64
	ServiceAccount          bool
	LoggingPrefix           string
	writer                  io.Writer
}

func (c Config) Logger(source string) *zap.SugaredLogger {
	var p string
	if source == "" {
		p = c.LoggingPrefix
	} else {
		p = fmt.Sprintf("%s:%s", c.LoggingPrefix, source)
	}

	level := zapcore.InfoLevel
	if c.Debug {
		level = zapcore.DebugLevel
	}
	opts := []zap.Option{
		zap.Fields(zap.String("source", p)),
	}

	de := zap.NewDevelopmentEncoderConfig()
	fileEncoder := zapcore.NewJSONEncoder(de)
	consoleEncoder := zapcore.NewConsoleEncoder(de)
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(c.writer), level),
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
	)
	logger := zap.New(core, opts...)
	sugar := logger.Sugar()
	return sugar
}

type Option func(*Config)

func WithDebug(d bool) Option {
	return func(c *Config) {
		c.Debug = d
	}
}

func WithRootDir(d string) Option {
	return func(c *Config) {
		c.RootDir = d
	}
}

func WithLoggingPrefix(p string) Option {
	return func(c *Config) {
		c.LoggingPrefix = p
	}
}

func WithParticipantCacheTTLSec(n int64) Option {
	return func(c *Config) {
		c.ParticipantCacheTTLSec = n
	}
}

func WithOnlineUpdateIntervalSec(n int64) Option {
	return func(c *Config) {
		c.OnlineUpdateIntervalSec = n
	}
}

func WithOnlineExpireSec(n int64) Option {
	return func(c *Config) {
		c.OnlineExpireSec = n
	}
}

// WithKickReaddDelayMs sets the wait between the transient ban of a kick
// and the follow-up unban. The remote side refuses the second edit if it
// arrives too soon after the first.
func WithKickReaddDelayMs(n int64) Option {
	return func(c *Config) {
		c.KickReaddDelayMs = n
	}
}

func WithServiceAccount(s bool) Option {
	return func(c *Config) {
		c.ServiceAccount = s
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Debug:                   os.Getenv("DEBUG") == "1",
		ParticipantCacheTTLSec:  1800,
		OnlineUpdateIntervalSec: 300,
		OnlineExpireSec:         1800,
		KickBanHorizonSec:       60,
		KickReaddDelayMs:        1000,
		ServiceAccount:          false,
		LoggingPrefix:           "",
		RootDir:                 ".",

		writer: nil,
	}
	for _, o := range opts {
		o(c)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(c.RootDir, "out.log"),
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28,   // days
		Compress:   true, // disabled by default
	}
	c.writer = writer
	return c
}
