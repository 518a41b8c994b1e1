package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Anything else is treated as info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled logging throughout the application.
type Logger struct {
	level Level
	color bool
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger
}

// NewLogger creates a new Logger writing to stdout/stderr.
func NewLogger() *Logger {
	return newLogger(os.Stdout, os.Stderr, LevelInfo, true)
}

// NewLoggerTo creates an uncoloured Logger sending every level to w.
func NewLoggerTo(w io.Writer, level Level) *Logger {
	return newLogger(w, w, level, false)
}

// NewFileLogger logs to stdout/stderr and, when path is set, also to a
// size-rotated file.
func NewFileLogger(path string, level Level) *Logger {
	if path == "" {
		l := NewLogger()
		l.level = level
		return l
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	return newLogger(io.MultiWriter(os.Stdout, file), io.MultiWriter(os.Stderr, file), level, false)
}

func newLogger(out, errOut io.Writer, level Level, color bool) *Logger {
	flags := 0
	return &Logger{
		level: level,
		color: color,
		info:  log.New(out, "", flags),
		warn:  log.New(out, "", flags),
		err:   log.New(errOut, "", flags),
		debug: log.New(out, "", flags),
	}
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) tag(name, ansi string) string {
	if !l.color {
		return fmt.Sprintf("%-5s", name)
	}
	return fmt.Sprintf("\033[%sm%-5s\033[0m", ansi, name)
}

func (l *Logger) Info(format string, args ...any) {
	if l.level > LevelInfo {
		return
	}
	l.info.Printf("[%s] %s %s", l.timestamp(), l.tag("INFO", "32"), fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	if l.level > LevelWarn {
		return
	}
	l.warn.Printf("[%s] %s %s", l.timestamp(), l.tag("WARN", "33"), fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Printf("[%s] %s %s", l.timestamp(), l.tag("ERROR", "31"), fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if l.level > LevelDebug {
		return
	}
	l.debug.Printf("[%s] %s %s", l.timestamp(), l.tag("DEBUG", "36"), fmt.Sprintf(format, args...))
}
