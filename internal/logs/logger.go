// Package logs builds the process logger from the log configuration.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiatele/telecore/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "telecore.log"

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Writer resolves an output setting. Anything other than stdout or stderr is
// a directory receiving rotated log files.
func Writer(output string) io.Writer {
	switch output {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	default:
		return &lumberjack.Logger{
			Filename:   filepath.Join(output, logFileName),
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	}
}

// SetupLogger returns a logger writing to w in the configured level and format.
func SetupLogger(o config.Log, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(o.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch o.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", o.Format)
	}
}
