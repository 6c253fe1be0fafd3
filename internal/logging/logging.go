// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

// Options controls the handler built by NewHandler.
type Options struct {
	// Format is FormatPretty, FormatJSON, or empty to pick pretty output for
	// terminals and JSON otherwise.
	Format string
	Level  slog.Level
}

// ParseLevel maps a config level name to a slog.Level. Empty means info.
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
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewHandler builds a handler writing to out.
//
// Pretty output is a colorized single line per record:
//
//	15:04:05 INF msg key=value
func NewHandler(out io.Writer, opts Options) slog.Handler {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatJSON
		if isTerminal(out) {
			format = FormatPretty
		}
	}

	if format == FormatPretty {
		return tint.NewHandler(out, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
}

// Setup installs a logger writing to out as the slog default and returns it.
func Setup(out io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(NewHandler(out, Options{Format: format, Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
