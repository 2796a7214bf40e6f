package crossforge

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ProcessLogFile is the rotating log of the tool itself, next to the step
// logs.
const ProcessLogFile = "crossforge.log"

// ConfigureLogging installs the process-wide slog default, a text handler at
// level. With logsDir set it writes to logs/crossforge.log, and to stderr as
// well in verbose mode; otherwise it writes to stderr. The returned closer
// releases the rotating file.
func ConfigureLogging(level, logsDir string) (slog.Level, io.Closer, error) {
	parsed, err := parseLevel(level)
	if err != nil {
		return 0, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return 0, nil, fmt.Errorf("create logs directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   filepath.Join(logsDir, ProcessLogFile),
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			LocalTime:  true,
		}
		w = rotating
		if Verbose {
			w = io.MultiWriter(os.Stderr, rotating)
		}
		closer = rotating
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return parsed, closer, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
