// Package log is the structured logger shared by every litterbox command.
// Records go to stderr, filtered by level, and optionally to a daily JSON
// file under the debug directory.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var (
	base       *slog.Logger
	logger     *slog.Logger
	fileWriter *FileWriter
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the stderr threshold to debug.
	Verbose bool
	// JSON switches stderr to JSON records.
	JSON bool
	// Dialog is set while a full-screen prompt owns the terminal. Only
	// warnings and errors reach stderr then, whatever Verbose says.
	Dialog bool
	// Dir receives YYYY-MM-DD.jsonl files at debug level. Empty disables them.
	Dir string
	// RetentionDays removes older files from Dir on Init (0 keeps everything).
	RetentionDays int
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Init replaces the global logger.
func Init(opts Options) error {
	Close()

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose && !opts.Dialog {
		level = slog.LevelDebug
	}
	stderrOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if opts.JSON {
		handlers = append(handlers, slog.NewJSONHandler(stderr, stderrOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stderr, stderrOpts))
	}

	if opts.Dir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.Dir, opts.RetentionDays)
		}
		fw, err := NewFileWriter(opts.Dir)
		if err != nil {
			return err
		}
		fileWriter = fw
		handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	setLogger(slog.New(&fanout{handlers: handlers}))
	return nil
}

// Close flushes and closes the debug file, if any.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

func setLogger(l *slog.Logger) {
	base = l
	logger = l
	slog.SetDefault(l)
}

// fanout passes each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) each(fn func(slog.Handler) slog.Handler) *fanout {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = fn(h)
	}
	return &fanout{handlers: out}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// SetOutput sends every level to w as text (for testing).
func SetOutput(w io.Writer) {
	setLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// SetLitterbox tags subsequent records with the litterbox an agent process
// serves. An empty name removes the tag.
func SetLitterbox(name string) {
	if name == "" {
		logger = base
	} else {
		logger = base.With(slog.String("litterbox", name))
	}
	slog.SetDefault(logger)
}

func init() {
	base = slog.Default()
	logger = base
}
