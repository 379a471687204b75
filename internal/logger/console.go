// Package logger provides logging implementations for the execution core:
// a colorized console logger and a plain-text file logger, both logging
// session/batch/task/sandbox/claim events at a filterable level.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

func levelRank(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// ConsoleLogger logs execution progress to a writer with [HH:MM:SS] prefixes
// and level-based color. Color is enabled automatically for TTY writers and
// disabled otherwise, mirroring the teacher's isatty-gated fatih/color use.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger constructs a ConsoleLogger writing to w at the given
// level ("trace", "debug", "info", "warn", "error"; default "info").
func NewConsoleLogger(w io.Writer, level string) *ConsoleLogger {
	if level == "" {
		level = "info"
	}
	colorOutput := false
	if f, ok := w.(*os.File); ok {
		colorOutput = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ConsoleLogger{writer: w, logLevel: level, colorOutput: colorOutput}
}

func (c *ConsoleLogger) emit(level int, prefix string, colorFn *color.Color, format string, args ...interface{}) {
	if level < levelRank(c.logLevel) {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)
	if c.colorOutput && colorFn != nil {
		fmt.Fprintf(c.writer, "[%s] %s\n", ts, colorFn.Sprint(prefix+msg))
		return
	}
	fmt.Fprintf(c.writer, "[%s] %s%s\n", ts, prefix, msg)
}

// Debugf logs at debug level.
func (c *ConsoleLogger) Debugf(format string, args ...interface{}) {
	c.emit(levelDebug, "", color.New(color.FgHiBlack), format, args...)
}

// Infof logs at info level. Satisfies the Logger interface internal/runner
// and internal/execworker depend on.
func (c *ConsoleLogger) Infof(format string, args ...interface{}) {
	c.emit(levelInfo, "", nil, format, args...)
}

// Warnf logs at warn level, prefixed "WARN: ".
func (c *ConsoleLogger) Warnf(format string, args ...interface{}) {
	c.emit(levelWarn, "WARN: ", color.New(color.FgYellow), format, args...)
}

// Errorf logs at error level, prefixed "ERROR: ".
func (c *ConsoleLogger) Errorf(format string, args ...interface{}) {
	c.emit(levelError, "ERROR: ", color.New(color.FgRed), format, args...)
}

// --- domain events ---
// These wrap Infof/Warnf with a consistent shape for the events specific to
// this execution core, rather than hand-formatting the same strings at
// every call site (§9: "Logger interface extended with new domain events").

// LogSessionStart reports a new session beginning execution.
func (c *ConsoleLogger) LogSessionStart(sessionID string, batchLo, batchHi int, totalTasks int) {
	c.Infof("session %s started: batches %d-%d, %d task(s)", sessionID, batchLo, batchHi, totalTasks)
}

// LogBatchReady reports a batch transitioning to executing.
func (c *ConsoleLogger) LogBatchReady(batchNumber int) {
	c.Infof("batch %d ready, marking executing", batchNumber)
}

// LogBatchComplete reports a batch reaching a terminal state.
func (c *ConsoleLogger) LogBatchComplete(batchNumber int, failed bool) {
	if failed {
		c.Warnf("batch %d failed", batchNumber)
		return
	}
	c.Infof("batch %d complete", batchNumber)
}

// LogSandboxAcquire reports a worker acquiring a sandbox for a task.
func (c *ConsoleLogger) LogSandboxAcquire(sandboxID, taskID string) {
	c.Infof("sandbox %s acquired for task %s", sandboxID, taskID)
}

// LogSandboxRelease reports a sandbox returning to the free pool.
func (c *ConsoleLogger) LogSandboxRelease(sandboxID string, ok bool) {
	if ok {
		c.Infof("sandbox %s released", sandboxID)
		return
	}
	c.Warnf("sandbox %s release failed, entering error state", sandboxID)
}

// LogClaimRace reports a worker losing the compare-and-swap race on a task.
func (c *ConsoleLogger) LogClaimRace(workerID string) {
	c.Debugf("[%s] lost claim race, re-polling", workerID)
}

// LogTaskPublished reports a task's change request being created.
func (c *ConsoleLogger) LogTaskPublished(taskNumber string, changeNumber int, changeURL string) {
	c.Infof("task %s published: #%d %s", taskNumber, changeNumber, changeURL)
}

// LogTaskFailed reports a task's terminal failure and its error kind.
func (c *ConsoleLogger) LogTaskFailed(taskNumber, reason string) {
	c.Warnf("task %s failed: %s", taskNumber, reason)
}

// LogSessionComplete reports the session reaching a terminal state.
func (c *ConsoleLogger) LogSessionComplete(sessionID string, completed, total int, failed bool) {
	if failed {
		c.Errorf("session %s failed: %d/%d tasks completed", sessionID, completed, total)
		return
	}
	c.Infof("session %s complete: %d/%d tasks", sessionID, completed, total)
}
