package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "warn")

	cl.Debug("should not appear")
	cl.Info("should not appear either")
	cl.Warn("this should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "this should appear") {
		t.Fatalf("expected warn message in output, got %q", out)
	}
}

func TestConsoleLoggerNilWriterDiscardsSilently(t *testing.T) {
	cl := NewConsoleLogger(nil, "debug")
	cl.Info("discarded")
}

func TestConsoleLoggerTimestampPrefix(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "debug")
	cl.Info("hello")

	out := buf.String()
	if !strings.HasPrefix(out, "[") {
		t.Fatalf("expected timestamp prefix, got %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected message content, got %q", out)
	}
}

func TestConsoleLoggerLogTaskTransition(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "debug")
	cl.LogTaskTransition("t1", "READY", "RUNNING")

	out := buf.String()
	if !strings.Contains(out, "t1") || !strings.Contains(out, "READY") || !strings.Contains(out, "RUNNING") {
		t.Fatalf("expected transition details in output, got %q", out)
	}
}

func TestConsoleLoggerLogEscalationIsWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "error")
	cl.LogEscalation("USER", "needs clarification")
	if buf.Len() != 0 {
		t.Fatalf("expected escalation at warn level to be filtered at error threshold, got %q", buf.String())
	}

	cl2 := NewConsoleLogger(&buf, "warn")
	cl2.LogEscalation("USER", "needs clarification")
	if !strings.Contains(buf.String(), "needs clarification") {
		t.Fatal("expected escalation message to appear at warn threshold")
	}
}

func TestConsoleLoggerCloseIsNoOp(t *testing.T) {
	cl := NewConsoleLogger(nil, "info")
	if err := cl.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
