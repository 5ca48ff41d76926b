package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Logger zerolog.Logger
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// FileDateFormat names log files in the log directory, e.g. 19-10-26--14-03-59.log.
const FileDateFormat = "02-01-06--15-04-05"

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Options control where log output goes.
type Options struct {
	Level LogLevel
	Dev   bool
	// Dir, when set, receives a timestamped copy of every log entry.
	Dir string
}

// Configure sets up the global logger. The returned closer releases the log
// file, if one was opened.
func Configure(opts Options) (io.Closer, error) {
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	var writer io.Writer = os.Stderr
	if opts.Dev {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		name := filepath.Join(opts.Dir, time.Now().Format(FileDateFormat)+".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(writer, f)
		closer = f
	}

	Logger = zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = Logger
	return closer, nil
}

// ParseLevel maps a configured level name to a zerolog level, defaulting to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// PruneOldFiles deletes log files in dir whose name-encoded date is older than
// maxAge. Files that don't follow FileDateFormat are left alone.
func PruneOldFiles(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		created, err := time.ParseInLocation(FileDateFormat, strings.TrimSuffix(e.Name(), ".log"), now.Location())
		if err != nil {
			continue
		}
		if now.Sub(created) <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			Logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to delete old log file")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debugf(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
