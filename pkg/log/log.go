// Package log provides structured logging for Tidestream components using
// zerolog. Every binary calls Init once at startup; packages obtain
// component-scoped child loggers from the helpers below rather than holding
// the global Logger directly.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger, configured by Init.
var Logger zerolog.Logger

// Level is a logging severity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how Init configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Call once, before any component logs.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name, e.g.
// "barrier-manager" or "compactor".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithActor returns a child logger tagged with an actor ID.
func WithActor(actorID uint32) zerolog.Logger {
	return Logger.With().Uint32("actor_id", actorID).Logger()
}

// WithFragment returns a child logger tagged with a fragment ID.
func WithFragment(fragmentID uint32) zerolog.Logger {
	return Logger.With().Uint32("fragment_id", fragmentID).Logger()
}

// WithEpoch returns a child logger tagged with an epoch.
func WithEpoch(epoch uint64) zerolog.Logger {
	return Logger.With().Uint64("epoch", epoch).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
