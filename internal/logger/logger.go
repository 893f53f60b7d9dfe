// Package logger provides the branchsync logger: structured slog records for
// the log file and plain progress lines for the user.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Logger writes structured records to a log file and user-facing progress to out.
// The zero value is not usable; use New or Discard.
type Logger struct {
	mu   *sync.Mutex
	log  *slog.Logger
	file *os.File
	out  io.Writer
}

// New opens logFile in append mode and returns a Logger writing progress to out.
// An empty logFile disables the file sink. When verbose is set, records are
// mirrored to stderr.
func New(logFile string, verbose bool, out io.Writer) (*Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	var sinks []io.Writer
	var file *os.File
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		file = f
		sinks = append(sinks, f)
	}
	if verbose {
		sinks = append(sinks, os.Stderr)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var w io.Writer = io.Discard
	if len(sinks) > 0 {
		w = io.MultiWriter(sinks...)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})

	return &Logger{
		mu:   &sync.Mutex{},
		log:  slog.New(handler),
		file: file,
		out:  out,
	}, nil
}

// Discard returns a Logger that drops structured records and writes progress to out.
// A nil out discards progress too.
func Discard(out io.Writer) *Logger {
	if out == nil {
		out = io.Discard
	}
	return &Logger{
		mu:  &sync.Mutex{},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out: out,
	}
}

// With returns a Logger whose records carry the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{mu: l.mu, log: l.log.With(args...), file: l.file, out: l.out}
}

// Debug logs a debug record.
func (l *Logger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }

// Info logs an informational record.
func (l *Logger) Info(msg string, args ...any) { l.log.Info(msg, args...) }

// Warn logs a warning record.
func (l *Logger) Warn(msg string, args ...any) { l.log.Warn(msg, args...) }

// Error logs an error record.
func (l *Logger) Error(msg string, args ...any) { l.log.Error(msg, args...) }

// User prints a progress line and records it.
func (l *Logger) User(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.println(msg)
	l.log.Info(msg)
}

// UserWarn prints a warning line and records it.
func (l *Logger) UserWarn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.println("⚠ " + msg)
	l.log.Warn(msg)
}

// Success prints a success line and records it.
func (l *Logger) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.println("✓ " + msg)
	l.log.Info(msg)
}

// Out returns the user-facing writer.
func (l *Logger) Out() io.Writer {
	return l.out
}

func (l *Logger) println(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// best-effort user output
	_, _ = fmt.Fprintln(l.out, msg)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
