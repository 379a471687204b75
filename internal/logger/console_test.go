package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		name         string
		logLevel     string
		messageLevel string
		shouldAppear bool
	}{
		{name: "info blocks debug", logLevel: "info", messageLevel: "debug", shouldAppear: false},
		{name: "info sees info", logLevel: "info", messageLevel: "info", shouldAppear: true},
		{name: "info sees warn", logLevel: "info", messageLevel: "warn", shouldAppear: true},
		{name: "warn blocks info", logLevel: "warn", messageLevel: "info", shouldAppear: false},
		{name: "warn sees error", logLevel: "warn", messageLevel: "error", shouldAppear: true},
		{name: "error blocks warn", logLevel: "error", messageLevel: "warn", shouldAppear: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewConsoleLogger(&buf, tt.logLevel)

			switch tt.messageLevel {
			case "debug":
				l.Debugf("msg")
			case "info":
				l.Infof("msg")
			case "warn":
				l.Warnf("msg")
			case "error":
				l.Errorf("msg")
			}

			if tt.shouldAppear {
				assert.Contains(t, buf.String(), "msg")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestConsoleLoggerNoColorForNonTTY(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "info")
	require.False(t, l.colorOutput)

	l.Warnf("heads up")
	assert.Contains(t, buf.String(), "WARN: heads up")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestConsoleLoggerDefaultLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "")
	l.Debugf("should not appear")
	l.Infof("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestConsoleLoggerDomainEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "debug")

	l.LogSessionStart("sess-1", 1, 3, 9)
	l.LogBatchReady(1)
	l.LogBatchComplete(1, false)
	l.LogBatchComplete(2, true)
	l.LogSandboxAcquire("wt-1", "task-1")
	l.LogSandboxRelease("wt-1", true)
	l.LogSandboxRelease("wt-2", false)
	l.LogClaimRace("worker-1")
	l.LogTaskPublished("1.1", 42, "https://example.com/pr/42")
	l.LogTaskFailed("1.2", "agent timeout")
	l.LogSessionComplete("sess-1", 8, 9, false)

	out := buf.String()
	for _, want := range []string{
		"session sess-1 started", "batch 1 ready", "batch 1 complete", "batch 2 failed",
		"sandbox wt-1 acquired for task task-1", "sandbox wt-1 released",
		"sandbox wt-2 release failed", "lost claim race",
		"task 1.1 published: #42", "task 1.2 failed: agent timeout",
		"session sess-1 complete: 8/9",
	} {
		assert.Contains(t, out, want)
	}
}
