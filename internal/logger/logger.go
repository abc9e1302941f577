package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ********************************************************
// ********* LOGGING **************************************
// ********************************************************

var defaultLogger zerolog.Logger

func init() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	defaultLogger = zerolog.New(writer).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum level emitted by the default logger.
// Accepts "debug", "info", "warn", "error".
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("unknown log level %q: %w", level, err)
	}
	defaultLogger = defaultLogger.Level(parsed)
	return nil
}

// SetOutput redirects log output, 'c' for console, 'f' for the given file path.
func SetOutput(outputType rune, path string) error {
	switch outputType {
	case 'c':
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		defaultLogger = zerolog.New(writer).Level(defaultLogger.GetLevel()).With().Timestamp().Logger()
	case 'f':
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defaultLogger = zerolog.New(f).Level(defaultLogger.GetLevel()).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log output type: %c", outputType)
	}
	return nil
}

// join renders a message plus trailing values the way the old logger did,
// primitives inline, everything else via %v.
func join(msg string, v ...any) string {
	if len(v) == 0 {
		return msg
	}
	parts := make([]string, 0, len(v)+1)
	parts = append(parts, msg)
	for _, arg := range v {
		switch val := arg.(type) {
		case string:
			parts = append(parts, val)
		case error:
			parts = append(parts, val.Error())
		case float32, float64:
			parts = append(parts, fmt.Sprintf("%.4f", val))
		default:
			parts = append(parts, fmt.Sprintf("%v", val))
		}
	}
	return strings.Join(parts, " ")
}

// Convenience methods using the default logger
func Debug(msg string, v ...any) {
	defaultLogger.Debug().Msg(join(msg, v...))
}

func Info(msg string, v ...any) {
	defaultLogger.Info().Msg(join(msg, v...))
}

func Warn(msg string, v ...any) {
	defaultLogger.Warn().Msg(join(msg, v...))
}

func Error(msg string, v ...any) {
	defaultLogger.Error().Msg(join(msg, v...))
}

func Fatal(msg string, v ...any) {
	defaultLogger.Fatal().Msg(join(msg, v...))
}
