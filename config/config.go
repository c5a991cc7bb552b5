// This package defines a common config struct which can be used by any subsystem within quorum.
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
	Debug         bool
	RootDir       string
	LoggingPrefix string

	// store
	MaxBookmarks        int
	BloatThresholdBytes int

	// action queue
	QueueTickMs      int64
	StuckTimeoutMs   int64
	MaxRetries       int
	BaseRetryDelayMs int64
	MaxRetryDelayMs  int64
	QueueBatchSize   int
	MaxQueueSize     int
	TaskMaxAgeMs     int64

	// mailbox
	NotifyCooldownMs  int64
	DisconnectGraceMs int64
	MailboxTickMs     int64

	writer io.Writer
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

func WithMaxBookmarks(n int) Option {
	return func(c *Config) {
		c.MaxBookmarks = n
	}
}

func WithBloatThresholdBytes(n int) Option {
	return func(c *Config) {
		c.BloatThresholdBytes = n
	}
}

func WithQueueTickMs(n int64) Option {
	return func(c *Config) {
		c.QueueTickMs = n
	}
}

func WithStuckTimeoutMs(n int64) Option {
	return func(c *Config) {
		c.StuckTimeoutMs = n
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

func WithMaxQueueSize(n int) Option {
	return func(c *Config) {
		c.MaxQueueSize = n
	}
}

func WithQueueBatchSize(n int) Option {
	return func(c *Config) {
		c.QueueBatchSize = n
	}
}

func WithBaseRetryDelayMs(n int64) Option {
	return func(c *Config) {
		c.BaseRetryDelayMs = n
	}
}

func WithDisconnectGraceMs(n int64) Option {
	return func(c *Config) {
		c.DisconnectGraceMs = n
	}
}

func WithNotifyCooldownMs(n int64) Option {
	return func(c *Config) {
		c.NotifyCooldownMs = n
	}
}

func WithMailboxTickMs(n int64) Option {
	return func(c *Config) {
		c.MailboxTickMs = n
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Debug:         os.Getenv("DEBUG") == "1",
		LoggingPrefix: "",
		RootDir:       ".",

		MaxBookmarks:        200,
		BloatThresholdBytes: 100 * 1024,

		QueueTickMs:      1000,
		StuckTimeoutMs:   30000,
		MaxRetries:       3,
		BaseRetryDelayMs: 2000,
		MaxRetryDelayMs:  5 * 60 * 1000,
		QueueBatchSize:   10,
		MaxQueueSize:     1000,
		TaskMaxAgeMs:     7 * 24 * 60 * 60 * 1000,

		NotifyCooldownMs:  5000,
		DisconnectGraceMs: 3000,
		MailboxTickMs:     1000,

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
