package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandHelp(t *testing.T) {
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("--help: %v", err)
	}

	output := buf.String()
	if !strings.Contains(strings.ToLower(output), "taskforge") {
		t.Errorf("help text should mention taskforge, got: %s", output)
	}
}

func TestRootCommandHasMinimumCLISurface(t *testing.T) {
	cmd := NewRootCommand()
	want := []string{"init", "status", "plan", "lead", "resolve", "cleanup"}

	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.Contains(buf.String(), Version) {
		t.Errorf("expected version output to contain %q, got: %s", Version, buf.String())
	}
}
