package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taskforge/taskforge/internal/agentrunner"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/entrypoint"
	"github.com/taskforge/taskforge/internal/escalation"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/judge"
	"github.com/taskforge/taskforge/internal/ledger"
	"github.com/taskforge/taskforge/internal/leader"
	"github.com/taskforge/taskforge/internal/logger"
	"github.com/taskforge/taskforge/internal/loopdetector"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/plannerops"
	"github.com/taskforge/taskforge/internal/planningops"
	"github.com/taskforge/taskforge/internal/serial"
	"github.com/taskforge/taskforge/internal/sessionstore"
	"github.com/taskforge/taskforge/internal/store"
	"github.com/taskforge/taskforge/internal/vcs"
	"github.com/taskforge/taskforge/internal/worker"
)

// env bundles every collaborator a subcommand needs, wired from the
// persistent --coord-dir/--repo/--config flags. Building it is the CLI's
// only responsibility per CORE SPEC §1: "configuration loading, logging
// formatting" plumbing around otherwise self-contained collaborators.
type env struct {
	cfg          *config.Config
	coordDir     string
	repo         ids.RepoPath
	tasks        *store.Store
	leaderSess   *sessionstore.Store[*models.LeaderSession]
	planningSess *sessionstore.Store[*models.PlanningSession]
	plannerSess  *sessionstore.Store[*models.PlannerSession]
	planningOps  *planningops.Planning
	log          logger.Logger
	ledger       *ledger.Ledger
	git          *vcs.Git
	agent        agentrunner.Runner
	worker       *worker.Worker
	judge        *judge.Judge
	planner      *plannerops.Planner
	leaderEngine *leader.Leader
	escalation   *escalation.Engine
	entrypoint   *entrypoint.Entrypoint
}

func (e *env) Close() error {
	var firstErr error
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.log != nil {
		if err := e.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildEnv(cmd *cobra.Command) (*env, error) {
	coordDir, err := cmd.Flags().GetString("coord-dir")
	if err != nil {
		return nil, err
	}
	repoPath, err := cmd.Flags().GetString("repo")
	if err != nil {
		return nil, err
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		configPath = filepath.Join(coordDir, "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tasks, err := store.New(coordDir)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	leaderSess, err := sessionstore.NewLeaderStore(coordDir)
	if err != nil {
		return nil, fmt.Errorf("opening leader session store: %w", err)
	}
	planningSess, err := sessionstore.NewPlanningStore(coordDir)
	if err != nil {
		return nil, fmt.Errorf("opening planning session store: %w", err)
	}
	plannerSess, err := sessionstore.NewPlannerStore(coordDir)
	if err != nil {
		return nil, fmt.Errorf("opening planner session store: %w", err)
	}

	log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)

	led, err := ledger.Open(filepath.Join(coordDir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	git := vcs.New()
	agent := agentrunner.NewCLIRunner(coordDir)

	w := worker.New(git, agent, cfg.Agents.WorkerAgentType, cfg.Agents.Model)
	j := judge.New(tasks, agent, cfg.Agents.JudgeAgentType, cfg.Agents.Model)
	j.BudgetBytes = cfg.LogTruncation.BudgetBytes
	j.HeadBytes = cfg.LogTruncation.HeadBytes

	planner := plannerops.New(tasks, agent, cfg.Agents.PlannerAgentType, cfg.Agents.Model, ids.RepoPath(repoPath))
	planner.MaxQualityRetries = cfg.MaxQualityRetries
	planner.MaxReplanIterations = cfg.MaxReplanIterations

	esc := escalation.New(leaderSess, planner)
	esc.Limits = escalation.Limits{
		User:            cfg.Escalation.User,
		Planner:         cfg.Escalation.Planner,
		LogicValidator:  cfg.Escalation.LogicValidator,
		ExternalAdvisor: cfg.Escalation.ExternalAdvisor,
	}

	se := serial.New(tasks, git, w, j)
	se.TaskRetries = cfg.SerialChainTaskRetries

	worktreeRoot := filepath.Join(coordDir, "worktrees")
	l := leader.New(tasks, leaderSess, w, j, esc, worktreeRoot)
	l.MaxIterations = cfg.LeaderMaxIterations
	l.JudgementMaxIterations = cfg.JudgementMaxIterations
	l.MaxWorkers = cfg.MaxWorkers
	l.Serial = se
	l.LoopDetector = loopdetector.New(loopdetector.Thresholds{
		SimilarityThreshold: cfg.LoopDetector.SimilarityThreshold,
		FingerprintWindow:   cfg.LoopDetector.FingerprintWindow,
		MaxStepIterations:   cfg.LoopDetector.MaxStepIterations,
	})
	l.Ledger = led
	l.Logger = log

	ep := entrypoint.New(planner, l, leaderSess, tasks)

	planningOps := planningops.New(planningSess, plannerSess, agent, cfg.Agents.PlannerAgentType, cfg.Agents.Model)

	return &env{
		cfg:          cfg,
		coordDir:     coordDir,
		repo:         ids.RepoPath(repoPath),
		tasks:        tasks,
		leaderSess:   leaderSess,
		planningSess: planningSess,
		plannerSess:  plannerSess,
		planningOps:  planningOps,
		log:          log,
		ledger:       led,
		git:          git,
		agent:        agent,
		worker:       w,
		judge:        j,
		planner:      planner,
		leaderEngine: l,
		escalation:   esc,
		entrypoint:   ep,
	}, nil
}
