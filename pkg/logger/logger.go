// Package logger wraps slog with the leveled, startup/job/performance
// convenience helpers the teacher's pkg/logger exposes, adapted to this
// domain's stages (transcription/diarization/merge) in place of the
// teacher's auth and CSV-batch helpers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with convenience methods.
type Logger struct {
	*slog.Logger
}

// LogLevel represents logging levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	defaultLogger *Logger
	currentLevel  = LevelInfo
)

// Init initializes the global logger at the given level, writing to w (or
// stdout if w is nil).
func Init(level string, w io.Writer) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel = LevelDebug
	case "info", "":
		currentLevel = LevelInfo
	case "warn", "warning":
		currentLevel = LevelWarn
	case "error":
		currentLevel = LevelError
	default:
		currentLevel = LevelInfo
	}

	var slogLevel slog.Level
	switch currentLevel {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	}

	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: false,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: a.Key, Value: slog.StringValue(a.Value.Time().Format("15:04:05"))}
			}
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				switch level {
				case slog.LevelDebug:
					a.Value = slog.StringValue("DEBUG")
				case slog.LevelInfo:
					a.Value = slog.StringValue("INFO ")
				case slog.LevelWarn:
					a.Value = slog.StringValue("WARN ")
				case slog.LevelError:
					a.Value = slog.StringValue("ERROR")
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(w, opts)
	defaultLogger = &Logger{slog.New(handler)}
}

// Get returns the default logger, lazily initializing from LOG_LEVEL if
// Init was never called.
func Get() *Logger {
	if defaultLogger == nil {
		Init(os.Getenv("LOG_LEVEL"), nil)
	}
	return defaultLogger
}

// GetLevel returns the current log level.
func GetLevel() LogLevel {
	return currentLevel
}

func Debug(msg string, args ...any) {
	if currentLevel <= LevelDebug {
		Get().Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if currentLevel <= LevelInfo {
		Get().Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if currentLevel <= LevelWarn {
		Get().Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if currentLevel <= LevelError {
		Get().Error(msg, args...)
	}
}

// WithContext creates a logger with additional context attached.
func WithContext(key string, value any) *Logger {
	return &Logger{Get().With(key, value)}
}

// Startup logs one initialization step, printed with a colored prefix at
// INFO and with the full detail set at DEBUG.
func Startup(step, message string, args ...any) {
	if currentLevel <= LevelInfo {
		fmt.Printf("\033[36m[+]\033[0m %s\n", message)
	}
	if currentLevel <= LevelDebug {
		Debug("startup step", append([]any{"step", step, "message", message}, args...)...)
	}
}

// JobStarted logs the start of a worker run for a job (spec §4.5 stage 1).
func JobStarted(jobID, filename, modelSize string, params map[string]any) {
	Info("transcription started", "file", filename)
	Debug("job started with details", "job_id", jobID, "file", filename, "model_size", modelSize, "params", params)
}

// JobCompleted logs a job reaching status=completed.
func JobCompleted(jobID string, duration time.Duration, result any) {
	Info("transcription completed", "duration", duration.String())
	Debug("job completed with details", "job_id", jobID, "duration", duration.String(), "result", result)
}

// JobFailed logs a job reaching status=failed.
func JobFailed(jobID string, duration time.Duration, err error) {
	Error("transcription failed", "error", err.Error())
	Debug("job failed with details", "job_id", jobID, "duration", duration.String(), "error", err.Error())
}

// JobCancelled logs a job reaching status=cancelled.
func JobCancelled(jobID, reason string) {
	Info("transcription cancelled", "job_id", jobID, "reason", reason)
}

// Stage logs an engine-adapter progress checkpoint (spec §4.3 progress
// reporting table).
func Stage(jobID, stage string, progress int) {
	Debug("stage checkpoint", "job_id", jobID, "stage", stage, "progress", progress)
}

// WorkerOperation logs one step of a worker's stage pipeline.
func WorkerOperation(workerID int, jobID string, operation string, args ...any) {
	Debug("worker operation", append([]any{"worker_id", workerID, "job_id", jobID, "operation", operation}, args...)...)
}

// Performance logs a timed operation for debugging.
func Performance(operation string, duration time.Duration, details ...any) {
	Debug("performance", append([]any{"operation", operation, "duration", duration.String()}, details...)...)
}

// GinLogger is request-logging middleware for the HTTP surface: clean
// single-line output at INFO, full detail at DEBUG. At INFO it skips
// paths containing /status or /stream (the SSE progress stream), the
// submission path /api/v1/jobs and /health; job status requests
// (/api/v1/jobs/:id) are still logged.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		if currentLevel <= LevelInfo {
			switch {
			case strings.Contains(path, "/status") || strings.Contains(path, "/stream"):
				return
			case path == "/api/v1/jobs" || path == "/health":
				return
			}
		}

		status := c.Writer.Status()
		statusColor := getStatusColor(status)

		if currentLevel <= LevelDebug {
			Debug("http request",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"duration", fmt.Sprintf("%.2fms", float64(duration.Nanoseconds())/1e6),
				"ip", c.ClientIP(),
				"user_agent", c.Request.UserAgent())
		} else {
			fmt.Printf("INFO  %s %s %s %s%d%s %s\n",
				time.Now().Format("15:04:05"),
				c.Request.Method,
				path,
				statusColor,
				status,
				"\033[0m",
				fmt.Sprintf("%.2fms", float64(duration.Nanoseconds())/1e6))
		}
	}
}

func getStatusColor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "\033[32m"
	case status >= 300 && status < 400:
		return "\033[33m"
	case status >= 400 && status < 500:
		return "\033[31m"
	case status >= 500:
		return "\033[35m"
	default:
		return "\033[37m"
	}
}

// SetGinOutput suppresses gin's own default request logger in favor of
// GinLogger above.
func SetGinOutput() {
	gin.DefaultWriter = io.Discard
}
