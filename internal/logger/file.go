package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileLogger writes timestamped run logs to a directory, keeping a
// "latest.log" symlink pointing at the current run. Grounded on the
// teacher's own FileLogger (per-run timestamped file + latest.log
// symlink), generalized from wave/task events to the session/batch/task
// events of this domain.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLoggerWithDirAndLevel creates a FileLogger writing to logDir at
// the given level, rotating in a fresh timestamped file each run.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("create symlink: %w", err)
	}

	if logLevel == "" {
		logLevel = "info"
	}
	fl := &FileLogger{logDir: logDir, runLog: file, runFile: runFile, logLevel: logLevel}
	fl.write(fmt.Sprintf("=== execution run log ===\nstarted at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

func (fl *FileLogger) write(s string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog != nil {
		fl.runLog.WriteString(s)
	}
}

func (fl *FileLogger) shouldLog(level int) bool { return level >= levelRank(fl.logLevel) }

func (fl *FileLogger) logf(level int, tag, format string, args ...interface{}) {
	if !fl.shouldLog(level) {
		return
	}
	fl.write(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), tag, fmt.Sprintf(format, args...)))
}

// Debugf logs at debug level.
func (fl *FileLogger) Debugf(format string, args ...interface{}) { fl.logf(levelDebug, "DEBUG", format, args...) }

// Infof logs at info level.
func (fl *FileLogger) Infof(format string, args ...interface{}) { fl.logf(levelInfo, "INFO", format, args...) }

// Warnf logs at warn level.
func (fl *FileLogger) Warnf(format string, args ...interface{}) { fl.logf(levelWarn, "WARN", format, args...) }

// Errorf logs at error level.
func (fl *FileLogger) Errorf(format string, args ...interface{}) { fl.logf(levelError, "ERROR", format, args...) }

// Close closes the underlying run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	return fl.runLog.Close()
}

// normalizeLogLevel lowercases and validates a level, defaulting to "info".
func normalizeLogLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return level
	default:
		return "info"
	}
}
