// Package logging provides structured logging built on log/slog, with a
// JSON file sink (rotated via lumberjack) and a human-readable console
// sink, matching the ambient logging stack the rest of the pipeline core
// assumes is available.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alikebrahim/neuravox/internal/config"
)

var (
	structuredLogger *slog.Logger
	consoleLogger    *slog.Logger
	loggerMu         sync.RWMutex
)

var currentOutputCloser io.Closer

var currentLogLevel = new(slog.LevelVar)
var initOnce sync.Once

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			label, exists := levelNames[level]
			if !exists {
				label = level.String()
			}
			a.Value = slog.StringValue(label)
		}
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncated := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncated)
	}
	return a
}

// Init wires the global loggers from the logging section of settings.
// It is safe to call multiple times; only the first call takes effect.
func Init(cfg config.LoggingConfig) {
	initOnce.Do(func() {
		currentLogLevel.Set(slog.LevelInfo)

		var fileWriter io.Writer = os.Stderr
		if cfg.Enabled && cfg.Path != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				fmt.Printf("failed to create log directory: %v\n", err)
			} else {
				lj := &lumberjack.Logger{
					Filename: cfg.Path,
					MaxSize:  maxSizeMB(cfg.MaxSize),
					MaxAge:   maxAgeDays(cfg.Rotation),
					Compress: false,
				}
				fileWriter = lj
				currentOutputCloser = lj
			}
		}

		structuredHandler := slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})
		consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		loggerMu.Lock()
		structuredLogger = slog.New(structuredHandler)
		consoleLogger = slog.New(consoleHandler)
		loggerMu.Unlock()

		slog.SetDefault(structuredLogger)
	})
}

func maxSizeMB(bytes int64) int {
	if bytes <= 0 {
		return 100
	}
	mb := int(bytes / (1024 * 1024))
	if mb <= 0 {
		return 1
	}
	return mb
}

func maxAgeDays(rotation config.RotationType) int {
	switch rotation {
	case config.RotationDaily:
		return 1
	case config.RotationWeekly:
		return 7
	default:
		return 28
	}
}

// SetLevel changes the level for all loggers created by this package.
func SetLevel(level slog.Level) { currentLogLevel.Set(level) }

// Close releases the rotated log file, if one is open.
func Close() error {
	if currentOutputCloser != nil {
		err := currentOutputCloser.Close()
		currentOutputCloser = nil
		return err
	}
	return nil
}

// Structured returns the JSON file logger, falling back to slog's default
// if Init has not been called.
func Structured() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if structuredLogger == nil {
		return slog.Default()
	}
	return structuredLogger
}

// Console returns the human-readable logger.
func Console() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if consoleLogger == nil {
		return slog.Default()
	}
	return consoleLogger
}

// ForComponent returns a logger with a "component" attribute, the
// convention every package in this module uses to identify its log lines.
func ForComponent(name string) *slog.Logger {
	return Structured().With("component", name)
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

var errNilLoggerOutput = errors.New("logging: output writer cannot be nil")

// SetOutput is exposed for tests that want to capture log output instead
// of writing to stderr/file.
func SetOutput(w io.Writer) error {
	if w == nil {
		return errNilLoggerOutput
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       currentLogLevel,
		ReplaceAttr: defaultReplaceAttr,
	})
	loggerMu.Lock()
	structuredLogger = slog.New(handler)
	loggerMu.Unlock()
	slog.SetDefault(structuredLogger)
	return nil
}
