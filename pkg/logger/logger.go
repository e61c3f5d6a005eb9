package logger

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the portal's output and level settings.
type Logger struct {
	zl zerolog.Logger
}

// DefaultLogger is the process-wide logger used by the package functions.
var DefaultLogger *Logger

// Config holds logger configuration
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Format sets the output format (json, console)
	Format string
	// Output sets the output destination (defaults to stdout)
	Output io.Writer
}

// Init replaces the default logger.
func Init(cfg Config) {
	DefaultLogger = New(cfg)
	zerolog.TimeFieldFormat = time.RFC3339
}

// New builds a standalone logger without touching DefaultLogger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var zl zerolog.Logger
	if cfg.Format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(cfg.Output).With().Timestamp().Logger()
	}

	return &Logger{zl: zl.Level(parseLevel(cfg.Level))}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func def() *Logger {
	if DefaultLogger == nil {
		Init(Config{Level: "info", Format: "json"})
	}
	return DefaultLogger
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// With returns a sub-logger context with additional fields
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}

func Debug() *zerolog.Event { return def().Debug() }
func Info() *zerolog.Event  { return def().Info() }
func Warn() *zerolog.Event  { return def().Warn() }
func Error() *zerolog.Event { return def().Error() }
func Fatal() *zerolog.Event { return def().Fatal() }

// Audit writes a log_type=audit line. It accompanies every stored audit entry
// and is the only trace left when the audit store rejects a write.
func Audit(action string, actorID string, fields map[string]string) {
	event := def().Info().
		Str("log_type", "audit").
		Str("action", action).
		Str("actor_id", actorID)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		event = event.Str(k, fields[k])
	}
	event.Msg("audit event")
}

// Middleware returns a Fiber middleware that logs requests
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		event := def().Info()
		if err != nil {
			event = def().Error().Err(err)
		}

		requestID, _ := c.Locals("request_id").(string)
		principalID, _ := c.Locals("principal_id").(string)

		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Int("bytes_sent", len(c.Response().Body())).
			Dur("latency", time.Since(start)).
			Str("request_id", requestID).
			Str("principal_id", principalID).
			Msg("HTTP request")

		return err
	}
}
