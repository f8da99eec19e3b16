package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/models"
)

func TestResolveCommandRequiresExactlyOneArg(t *testing.T) {
	cmd := newResolveCommand()
	if err := cmd.Args(cmd, nil); err == nil {
		t.Error("expected an error with zero args")
	}
	if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
		t.Error("expected an error with two args")
	}
}

func TestResolveCommandFailsOnUnknownSession(t *testing.T) {
	coordDir := filepath.Join(t.TempDir(), ".taskforge")
	runInit(t, coordDir)

	cmd := newResolveCommand()
	flags := newTestCommandWithFlags(t, coordDir, ".")
	flags.SetContext(context.Background())
	if err := cmd.RunE(flags, []string{string(ids.NewSessionId())}); err == nil {
		t.Fatal("expected an error resolving a session that was never planned")
	}
}

func TestResolveCommandRequiresPlanFileFlag(t *testing.T) {
	coordDir := filepath.Join(t.TempDir(), ".taskforge")
	runInit(t, coordDir)

	setupFlags := newTestCommandWithFlags(t, coordDir, ".")
	e, err := buildEnv(setupFlags)
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}

	sessionId := ids.NewSessionId()
	now := time.Now()
	session := &models.LeaderSession{
		SessionId: sessionId,
		Status:    models.LeaderEscalating,
		CreatedAt: now,
		UpdatedAt: now,
		EscalationRecords: []models.EscalationRecord{
			{Id: "esc-1", Target: models.EscalationUser, Reason: "ambiguous instruction", Resolved: false},
		},
	}
	if err := e.leaderSess.Save(sessionId, session); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("closing env: %v", err)
	}

	cmd := newResolveCommand()
	flags := newTestCommandWithFlags(t, coordDir, ".")
	flags.SetContext(context.Background())
	if err := cmd.RunE(flags, []string{string(sessionId)}); err == nil {
		t.Fatal("expected an error when --plan-file is not provided")
	}
}
