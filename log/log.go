package log

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
)

// LevelCritical sits above slog.LevelError and is used for unhandled errors.
const LevelCritical = slog.LevelError + 4

// DefaultName is the logger name attached to every record when none is configured.
const DefaultName = "lol_team_assistant"

// Options selects and configures the handler built by New.
type Options struct {
	// Level is one of debug, info, warn, error or critical.
	Level string
	// Format is one of pretty, tint, json or text. Empty means pretty.
	Format string
	// TimeZone is an IANA zone name used by the pretty handler.
	TimeZone string
	// File, when set, is opened for appending instead of writing to stdout.
	File string
	// Name is attached to every record under the "logger" key.
	Name string
}

type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
	// Optional timezone to use for logging. If nil, local timezone is used.
	TimeZone *time.Location
}

type PrettyHandler struct {
	opts     slog.HandlerOptions
	l        *log.Logger
	mu       *sync.Mutex
	timeZone *time.Location
	attrs    []slog.Attr
	group    string
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if next.group != "" {
		next.group += "." + name
	} else {
		next.group = name
	}
	return &next
}

func (h *PrettyHandler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

func (h *PrettyHandler) Handle(ctx context.Context, r slog.Record) error {
	level := LevelName(r.Level)

	switch {
	case r.Level >= LevelCritical:
		level = color.New(color.FgHiRed, color.Bold).Sprint(level)
	case r.Level >= slog.LevelError:
		level = color.RedString(level)
	case r.Level >= slog.LevelWarn:
		level = color.YellowString(level)
	case r.Level >= slog.LevelInfo:
		level = color.BlueString(level)
	default:
		level = color.MagentaString(level)
	}

	fields := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	add := func(a slog.Attr) {
		if errVal, ok := a.Value.Any().(error); ok {
			fields[a.Key] = errVal.Error()
		} else {
			fields[a.Key] = a.Value.Any()
		}
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(h.qualify(a))
		return true
	})

	var err error
	var b []byte
	if len(fields) > 0 {
		b, err = json.Marshal(fields)
		if err != nil {
			return err
		}
	}

	logTime := r.Time
	if h.timeZone != nil {
		logTime = logTime.In(h.timeZone)
	}

	// Format: [2023-04-15 15:05:05.000 -0700 PDT]
	timeStr := logTime.Format("[2006-01-02 15:04:05.000 -0700 MST]")
	msg := color.CyanString(r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.l.Println(timeStr, level, msg, color.HiBlackString(string(b)))

	return nil
}

func NewPrettyHandler(
	out io.Writer,
	opts PrettyHandlerOptions,
) *PrettyHandler {
	h := &PrettyHandler{
		opts:     opts.SlogOpts,
		l:        log.New(out, "", 0),
		mu:       &sync.Mutex{},
		timeZone: opts.TimeZone,
	}

	return h
}

// Helper function to create a new handler with UTC timezone
func NewUTCPrettyHandler(
	out io.Writer,
	opts PrettyHandlerOptions,
) *PrettyHandler {
	opts.TimeZone = time.UTC
	return NewPrettyHandler(out, opts)
}

// LevelName renders a level, naming LevelCritical explicitly.
func LevelName(l slog.Level) string {
	if l >= LevelCritical {
		return "CRITICAL"
	}
	return l.String()
}

// ParseLevel maps a configured level name onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// replaceLevel keeps the built-in handlers consistent with the pretty one.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(l))
		}
	}
	return a
}

// New builds the process logger described by opts. When out is nil the
// configured file or stdout is used. The returned closer releases the log file.
func New(opts Options, out io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	format := strings.ToLower(opts.Format)
	switch format {
	case "", "pretty", "tint", "json", "text":
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	var tz *time.Location
	if opts.TimeZone != "" {
		tz, err = time.LoadLocation(opts.TimeZone)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log timezone %q: %w", opts.TimeZone, err)
		}
	}

	var closer io.Closer = nopCloser{}
	if out == nil {
		if opts.File != "" {
			f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
			}
			out, closer = f, f
		} else {
			out = os.Stdout
		}
	}

	slogOpts := slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}

	var handler slog.Handler
	switch format {
	case "", "pretty":
		handler = NewPrettyHandler(out, PrettyHandlerOptions{SlogOpts: slogOpts, TimeZone: tz})
	case "tint":
		if out == os.Stdout {
			out = colorable.NewColorableStdout()
		}
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05.000",
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 {
					if l, ok := a.Value.Any().(slog.Level); ok && l >= LevelCritical {
						return slog.String(a.Key, "CRT")
					}
				}
				return a
			},
		})
	case "json":
		handler = slog.NewJSONHandler(out, &slogOpts)
	case "text":
		handler = slog.NewTextHandler(out, &slogOpts)
	}

	name := opts.Name
	if name == "" {
		name = DefaultName
	}

	return slog.New(handler).With("logger", name), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Critical logs msg at LevelCritical.
func Critical(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelCritical, msg, args...)
}
