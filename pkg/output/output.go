package output

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pterm/pterm"
)

// Logger wraps slog.Logger with context-aware methods
type Logger interface {
	// Component returns a logger for a specific component
	Component(name string) Logger
	// With returns a logger with additional attributes
	With(args ...any) Logger

	// Standard log levels
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// OutputLogger handles both user-facing output and structured logging. In
// JSON mode all output is structured logs on stdout; in interactive mode
// structured logs go to a file and user messages use pterm.
type OutputLogger struct {
	Logger
	jsonMode bool
}

// New creates a new OutputLogger
func New(jsonMode bool) (*OutputLogger, error) {
	var slogLogger *slog.Logger

	if jsonMode {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getLogLevel(),
		})
		slogLogger = slog.New(handler)
	} else {
		logFile, err := getLogFilePath()
		if err != nil {
			return nil, fmt.Errorf("failed to get log file path: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		handler := slog.NewTextHandler(file, &slog.HandlerOptions{
			Level: getLogLevel(),
		})
		slogLogger = slog.New(handler)
	}

	return &OutputLogger{
		Logger:   &loggerImpl{slog: slogLogger},
		jsonMode: jsonMode,
	}, nil
}

// getLogLevel returns the log level from LOG_LEVEL env var, defaulting to info
func getLogLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getLogFilePath returns the path to the log file
func getLogFilePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".healthsync", "healthsync.log"), nil
}

// Progress shows ongoing operations
func (ol *OutputLogger) Progress(format string, args ...any) {
	if ol.jsonMode {
		ol.Logger.Info("progress", "message", fmt.Sprintf(format, args...))
	} else {
		pterm.Info.Printf(format+"\n", args...)
	}
}

// Status shows important state changes
func (ol *OutputLogger) Status(format string, args ...any) {
	if ol.jsonMode {
		ol.Logger.Info("status", "message", fmt.Sprintf(format, args...))
	} else {
		pterm.Success.Printf(format+"\n", args...)
	}
}

// Error shows user-facing errors
func (ol *OutputLogger) Error(format string, args ...any) {
	if ol.jsonMode {
		ol.Logger.Error("user_error", "message", fmt.Sprintf(format, args...))
	} else {
		pterm.Error.Printf(format+"\n", args...)
	}
}

// SyncSummary shows the outcome of one completed sync cycle.
func (ol *OutputLogger) SyncSummary(synced, duplicates, dropped, failed int) {
	if ol.jsonMode {
		ol.Logger.Info("sync_summary",
			"synced", synced, "duplicates", duplicates, "dropped", dropped, "failed", failed)
		return
	}
	pterm.Success.Printf("🏃 Sync complete: %d new, %d already known, %d too short, %d failed\n",
		synced, duplicates, dropped, failed)
}

// FailureBanner renders the "last sync failed" state from the run status.
func (ol *OutputLogger) FailureBanner(lastError string, consecutiveFailures int) {
	if lastError == "" {
		return
	}
	if ol.jsonMode {
		ol.Logger.Warn("last_sync_failed",
			"error", lastError, "consecutive_failures", consecutiveFailures)
		return
	}
	pterm.Warning.Printf("Last sync failed (%d in a row): %s\n", consecutiveFailures, lastError)
}

// StatusRow is one line of the status table.
type StatusRow struct {
	Label string
	Value string
}

// StatusTable renders run status and configuration for the status command.
func (ol *OutputLogger) StatusTable(title string, rows []StatusRow) {
	if ol.jsonMode {
		fields := make([]any, 0, len(rows)*2)
		for _, r := range rows {
			fields = append(fields, r.Label, r.Value)
		}
		ol.Logger.Info(title, fields...)
		return
	}

	pterm.DefaultSection.Println(title)
	data := make(pterm.TableData, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{r.Label, r.Value})
	}
	pterm.DefaultTable.WithData(data).Render()
}

// FormatTime renders an optional timestamp for display.
func FormatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// JSON outputs structured data (only in JSON mode)
func (ol *OutputLogger) JSON(data any) error {
	if !ol.jsonMode {
		return nil
	}
	encoder := json.NewEncoder(os.Stdout)
	return encoder.Encode(data)
}

// LogAndShowError logs an error with full context and shows a user-friendly message
func (ol *OutputLogger) LogAndShowError(err error, userMsg string, args ...any) {
	ol.Logger.Error("operation_failed", "error", err.Error(), "user_message", fmt.Sprintf(userMsg, args...))
	ol.Error(userMsg, args...)
}

// loggerImpl implements Logger interface
type loggerImpl struct {
	slog *slog.Logger
}

func (l *loggerImpl) Component(name string) Logger {
	return &loggerImpl{slog: l.slog.With("component", name)}
}

func (l *loggerImpl) With(args ...any) Logger {
	return &loggerImpl{slog: l.slog.With(args...)}
}

func (l *loggerImpl) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

func (l *loggerImpl) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

func (l *loggerImpl) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

func (l *loggerImpl) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}
