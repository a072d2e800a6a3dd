// Package logging builds the process logger: colored leveled console output,
// an optional size-rotated log file and an optional hook that mirrors
// console records to another sink.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelNone silences console output. The log file still records everything.
const LevelNone = slog.Level(100)

// DefaultMaxSizeMB is the size at which the log file is rotated.
const DefaultMaxSizeMB = 300

// Options configures New.
type Options struct {
	Level     string
	File      string
	MaxSizeMB int
	Console   io.Writer
	// Hook receives every record that reaches the console.
	Hook func(level, msg string)
}

// ParseLevel maps debug, info, warn, error and none to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "none":
		return LevelNone, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New returns the logger and a closer for the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	h := &handler{
		mu:      &sync.Mutex{},
		console: console,
		level:   level,
		hook:    opts.Hook,
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		size := opts.MaxSizeMB
		if size <= 0 {
			size = DefaultMaxSizeMB
		}
		lj := &lumberjack.Logger{Filename: opts.File, MaxSize: size}
		h.file = lj
		closer = lj
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var (
	gray     = color.New(color.FgHiBlack).SprintFunc()
	prefixes = map[slog.Level]string{
		slog.LevelDebug: color.New(color.FgMagenta).Sprint("[DEBUG]"),
		slog.LevelInfo:  color.New(color.FgCyan).Sprint("[INFO]"),
		slog.LevelWarn:  color.New(color.FgYellow).Sprint("[WARNING]"),
		slog.LevelError: color.New(color.FgRed).Sprint("[ERROR]"),
	}
)

type handler struct {
	mu      *sync.Mutex
	console io.Writer
	file    io.Writer
	level   slog.Level
	hook    func(level, msg string)
	attrs   []slog.Attr
	group   string
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return h.file != nil || (h.level != LevelNone && l >= h.level)
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	msg := b.String()
	name := levelName(r.Level)

	h.mu.Lock()
	if h.file != nil {
		fmt.Fprintf(h.file, "%s [%s]: %s\n", r.Time.Format(time.RFC3339), strings.ToUpper(name), msg)
	}
	toConsole := h.level != LevelNone && r.Level >= h.level
	if toConsole {
		fmt.Fprintf(h.console, "%s  %s  %s\n", gray("["+r.Time.Format(time.Kitchen)+"]"), prefix(r.Level), msg)
	}
	h.mu.Unlock()

	if toConsole && h.hook != nil {
		h.hook(name, msg)
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "."
	}
	c.group += name
	return &c
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

func prefix(l slog.Level) string {
	switch levelName(l) {
	case "error":
		return prefixes[slog.LevelError]
	case "warn":
		return prefixes[slog.LevelWarn]
	case "info":
		return prefixes[slog.LevelInfo]
	}
	return prefixes[slog.LevelDebug]
}
