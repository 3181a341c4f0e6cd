// Package logging provides the leveled, file-rotated logger used across the
// gateway and CLI.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how logs are written.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // empty means stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Timezone   string // IANA name, e.g. "America/Los_Angeles"; empty means UTC
}

// Logger wraps log.Logger with leveled methods and a configured timezone for
// its timestamp prefix.
type Logger struct {
	*log.Logger
	writer   io.Closer
	level    level
	location *time.Location
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// New builds a Logger from config. A non-empty File (a leading "~/" is
// expanded to the home directory) is rotated via lumberjack and written
// alongside stderr; an empty File logs to stderr only. Timestamps in
// log lines are expressed in the configured Timezone, matching the PST-style
// formatter the original service used for its own logs.
func New(cfg Config) (*Logger, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("logging: unknown timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		path := cfg.File
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("logging: resolving home directory: %w", err)
			}
			path = filepath.Join(home, path[2:])
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, writer)
		closer = writer
	}

	return &Logger{
		Logger:   log.New(out, "", 0),
		writer:   closer,
		level:    parseLevel(cfg.Level),
		location: loc,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Close flushes and closes the rotating file, if one is configured.
func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

func (l *Logger) prefix(tag string) string {
	return fmt.Sprintf("%s [%s] ", time.Now().In(l.location).Format("2006-01-02T15:04:05.000Z07:00"), tag)
}

// Debug logs at debug level; suppressed unless Level is "debug".
func (l *Logger) Debug(format string, v ...any) {
	if l.level > levelDebug {
		return
	}
	l.Output(2, l.prefix("DEBUG")+fmt.Sprintf(format, v...))
}

// Info logs at info level.
func (l *Logger) Info(format string, v ...any) {
	if l.level > levelInfo {
		return
	}
	l.Output(2, l.prefix("INFO")+fmt.Sprintf(format, v...))
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, v ...any) {
	if l.level > levelWarn {
		return
	}
	l.Output(2, l.prefix("WARN")+fmt.Sprintf(format, v...))
}

// Error logs at error level. Errors are never suppressed by Level.
func (l *Logger) Error(format string, v ...any) {
	l.Output(2, l.prefix("ERROR")+fmt.Sprintf(format, v...))
}
