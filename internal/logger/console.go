package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// ConsoleLogger logs lifecycle-engine progress to a writer with timestamps
// and thread safety. All output is prefixed with [HH:MM:SS] timestamps.
// Color output is automatically enabled for terminal output
// (os.Stdout/os.Stderr) and can be forced on or off for tests and
// non-interactive use.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided
// io.Writer. If writer is nil, messages are silently discarded. logLevel
// determines the minimum log level for messages to be output; an empty or
// invalid value defaults to "info". Color output is automatically enabled
// when writing to os.Stdout or os.Stderr with TTY support.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
	}
}

// SetColorOutput forces color output on or off, overriding TTY detection.
// Used by the CLI's --no-color flag and by tests.
func (cl *ConsoleLogger) SetColorOutput(enabled bool) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.colorOutput = enabled
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	return false
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

func (cl *ConsoleLogger) logWithLevel(level, tag, message string) {
	if !cl.shouldLog(level) {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	if cl.writer == nil {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s %s\n", timestamp, tag, message)
	if cl.colorOutput {
		line = fmt.Sprintf("[%s] %s %s\n", timestamp, cl.colorizeTag(level, tag), message)
	}
	fmt.Fprint(cl.writer, line)
}

func (cl *ConsoleLogger) colorizeTag(level, tag string) string {
	switch level {
	case "error":
		return cl.scheme.fail.Sprint(tag)
	case "warn":
		return cl.scheme.warn.Sprint(tag)
	case "debug":
		return cl.scheme.label.Sprint(tag)
	default:
		return cl.scheme.success.Sprint(tag)
	}
}

// Debug logs a debug-level message.
func (cl *ConsoleLogger) Debug(message string) { cl.logWithLevel("debug", "[DEBUG]", message) }

// Info logs an info-level message.
func (cl *ConsoleLogger) Info(message string) { cl.logWithLevel("info", "[INFO] ", message) }

// Warn logs a warn-level message.
func (cl *ConsoleLogger) Warn(message string) { cl.logWithLevel("warn", "[WARN] ", message) }

// Error logs an error-level message.
func (cl *ConsoleLogger) Error(message string) { cl.logWithLevel("error", "[ERROR]", message) }

// Close is a no-op for ConsoleLogger; the underlying writer's lifecycle is
// owned by the caller.
func (cl *ConsoleLogger) Close() error { return nil }

// LogTaskTransition logs a task state change, colorized by outcome.
func (cl *ConsoleLogger) LogTaskTransition(taskID, fromState, toState string) {
	msg := fmt.Sprintf("%s -> %s", formatColorizedField("from", fromState, cl.scheme), formatColorizedField("to", toState, cl.scheme))
	cl.logWithLevel("info", "[TASK] ", fmt.Sprintf("%s %s", formatColorizedField("task", taskID, cl.scheme), msg))
}

// LogEscalation logs an escalation being raised, at warn level.
func (cl *ConsoleLogger) LogEscalation(target, reason string) {
	cl.logWithLevel("warn", "[ESCALATE]", fmt.Sprintf("%s %s", formatColorizedField("target", target, cl.scheme), reason))
}
