package utils

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger global logger
var Logger = zerolog.Nop()

// LogConfig logging configuration
type LogConfig struct {
	Level      string    // trace, debug, info, warn, error
	LogDir     string    // directory of the rotated files
	MaxSize    int       // MB per file before rotation
	MaxBackups int       // rotated files kept
	MaxAge     int       // days kept
	Compress   bool      // gzip rotated files
	Console    io.Writer // console destination, stdout when nil
}

// DefaultLogConfig default logging configuration
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes the global logger
func InitLogger(config LogConfig) error {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// main log (rotated)
	mainLogFile := &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, "royalties.log"),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// error log (rotated)
	errorLogFile := &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, "royalties_error.log"),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	out := config.Console
	if out == nil {
		out = os.Stdout
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	// console + main file get every level, error file only error and above
	multiWriter := zerolog.MultiLevelWriter(
		consoleWriter,
		mainLogFile,
		&FilteredWriter{Writer: errorLogFile, MinLevel: zerolog.ErrorLevel},
	)

	Logger = zerolog.New(multiWriter).
		With().
		Timestamp().
		Caller().
		Logger()

	log.Logger = Logger
	zerolog.DefaultContextLogger = &Logger

	Logger.Info().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("logger initialized")

	return nil
}

// FilteredWriter writes only events at or above MinLevel
type FilteredWriter struct {
	Writer   io.Writer
	MinLevel zerolog.Level
}

// Write drops level-less writes; zerolog always goes through WriteLevel
func (w *FilteredWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter
func (w *FilteredWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level >= w.MinLevel {
		return w.Writer.Write(p)
	}
	return len(p), nil
}

// WithRun returns ctx carrying a logger tagged with the run id
func WithRun(ctx context.Context, runID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("run", runID).Logger()
	return l.WithContext(ctx)
}

// WithTask returns ctx carrying a logger tagged with the task identity
func WithTask(ctx context.Context, t models.Task) context.Context {
	c := zerolog.Ctx(ctx).With().
		Str("task", t.ID()).
		Str("city", t.City).
		Str("year", t.Year)
	if t.Month != "" {
		c = c.Str("month", t.Month)
	}
	l := c.Logger()
	return l.WithContext(ctx)
}

// WithField returns ctx whose logger carries one more string field
func WithField(ctx context.Context, key, value string) context.Context {
	l := zerolog.Ctx(ctx).With().Str(key, value).Logger()
	return l.WithContext(ctx)
}

// Info logs an info message
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

// Error logs err with a message
func Error(err error, msg string) {
	Logger.Error().Err(err).Msg(msg)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

// Warn logs a warning
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Warnf logs a formatted warning
func Warnf(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

// Debug logs a debug message
func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}
