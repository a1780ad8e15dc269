package daemon

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/events"
	"github.com/rescale/runwatch/internal/logging"
)

// LogWriter fans zerolog JSON entries out to the console and a rotating
// log file.
type LogWriter struct {
	mu          sync.RWMutex
	console     io.Writer
	file        io.WriteCloser
	fileEnabled bool
	buffer      *LogBuffer
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	// LogFile is the path to write logs (empty = no file logging)
	LogFile string

	// Console enables console output (stderr)
	Console bool

	// Buffer keeps recent entries for the status endpoint (nil = disabled)
	Buffer *LogBuffer
}

// NewLogWriter creates a log writer for cfg.
func NewLogWriter(cfg LogConfig) *LogWriter {
	w := &LogWriter{buffer: cfg.Buffer}

	if cfg.Console {
		w.console = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	if cfg.LogFile != "" {
		w.file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    constants.LogFileMaxSizeMB,
			MaxBackups: constants.LogFileMaxBackups,
			MaxAge:     constants.LogFileMaxAgeDays,
			Compress:   true,
		}
		w.fileEnabled = true
	}

	return w
}

// Write implements io.Writer for zerolog.
func (w *LogWriter) Write(p []byte) (n int, err error) {
	n = len(p)

	var entry struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Run     string `json:"run"`
	}
	json.Unmarshal(p, &entry)

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.console != nil {
		w.console.Write(p)
	}

	if w.buffer != nil && entry.Message != "" {
		level := entry.Level
		if level == "" {
			level = "info"
		}
		w.buffer.Add(LogEntry{Timestamp: time.Now(), Level: level, Run: entry.Run, Message: entry.Message})
	}

	if w.fileEnabled && w.file != nil {
		// Format for file: timestamp [LEVEL] run: message
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		level := entry.Level
		if level == "" {
			level = "info"
		}
		scope := entry.Run
		if scope == "" {
			scope = "daemon"
		}
		msg := entry.Message
		if msg == "" {
			msg = string(p)
		}
		w.file.Write([]byte(timestamp + " [" + level + "] " + scope + ": " + msg + "\n"))
	}
	return n, nil
}

// Close closes the file logger if open.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// SetFileLogging enables or disables file logging.
func (w *LogWriter) SetFileLogging(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fileEnabled = enabled
}

// CreateLogger creates a logger configured for daemon use.
// Returns the logger and the writer, which the caller closes on shutdown.
func CreateLogger(cfg LogConfig, bus *events.EventBus) (*logging.Logger, *LogWriter) {
	writer := NewLogWriter(cfg)
	return logging.NewWithWriter(writer, bus), writer
}
