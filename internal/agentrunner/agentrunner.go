// Package agentrunner is the Agent Runner collaborator: given a prompt, a
// working directory and a model name, it produces a text response and a run
// log (CORE SPEC §6). It also owns the on-disk run log/metadata bookkeeping
// the Worker and Judge components read back.
//
// The CLI invocation shape (system-prompt flag, --output-format json,
// --permission-mode bypassPermissions, rate-limit detection via
// budget.ParseRateLimitFrom*) is adapted from the teacher's
// internal/claude.Invoker. Log/metadata persistence under <coord>/runs is
// adapted from internal/agent.Invoker's run bookkeeping, rewired onto
// filelock's atomic-write idiom instead of the teacher's direct os.Create.
package agentrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/taskforge/taskforge/internal/budget"
	"github.com/taskforge/taskforge/internal/filelock"
	"github.com/taskforge/taskforge/internal/ids"
	"github.com/taskforge/taskforge/internal/jsonx"
	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/taskforgeerr"
)

// Usage carries invocation metadata alongside a Result's text. Optional per
// CORE SPEC §6 (the contract marks it "usage?").
type Usage struct {
	Duration time.Duration
}

// Result is the outcome of one Agent Runner invocation.
type Result struct {
	RunId         ids.RunId
	FinalResponse string
	SessionID     string
	Usage         *Usage
}

// Runner is the Agent Runner contract from CORE SPEC §6.
type Runner interface {
	RunAgent(ctx context.Context, agentType, model, prompt, cwd string, runID ids.RunId) (Result, error)
	EnsureRunsDir() error
	InitializeLogFile(run models.Run) error
	AppendLog(runID ids.RunId, text string) error
	SaveRunMetadata(run models.Run) error
	LoadRunMetadata(runID ids.RunId) (models.Run, error)
	ReadLog(runID ids.RunId) (string, error)
	ListRunLogs() ([]ids.RunId, error)
}

// CommandExecutor abstracts CLI execution for testability (mirrors
// vcs.CommandRunner).
type CommandExecutor interface {
	Run(ctx context.Context, dir string, name string, args ...string) (output string, err error)
}

// ExecCommandExecutor runs the agent CLI via os/exec.
type ExecCommandExecutor struct{}

// Run executes name with args in dir via exec.CommandContext, returning
// combined stdout/stderr.
func (ExecCommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(output), nil
}

// CLIRunner is the CLI-backed Runner implementation.
type CLIRunner struct {
	// ClaudePath is the path to the coding-agent CLI binary. Defaults to
	// "claude".
	ClaudePath string

	// CoordDir is the coordination directory; run logs/metadata live at
	// <CoordDir>/runs.
	CoordDir string

	// Timeout bounds a single invocation. Zero means no timeout beyond
	// ctx's own deadline.
	Timeout time.Duration

	// MaxRetries bounds backoff retries of a transient
	// AgentExecutionError. Defaults to 3.
	MaxRetries int

	// Logger receives rate-limit countdown notifications. May be nil.
	Logger budget.WaiterLogger

	// Executor runs the underlying CLI command. Defaults to
	// ExecCommandExecutor.
	Executor CommandExecutor
}

// NewCLIRunner returns a CLIRunner backed by the real "claude" binary,
// persisting runs under coordDir.
func NewCLIRunner(coordDir string) *CLIRunner {
	return &CLIRunner{ClaudePath: "claude", CoordDir: coordDir, MaxRetries: 3, Executor: ExecCommandExecutor{}}
}

// NewCLIRunnerWithExecutor returns a CLIRunner backed by a custom
// CommandExecutor, for tests.
func NewCLIRunnerWithExecutor(coordDir string, executor CommandExecutor) *CLIRunner {
	return &CLIRunner{ClaudePath: "claude", CoordDir: coordDir, MaxRetries: 3, Executor: executor}
}

func (r *CLIRunner) executor() CommandExecutor {
	if r.Executor != nil {
		return r.Executor
	}
	return ExecCommandExecutor{}
}

func (r *CLIRunner) runsDir() string { return filepath.Join(r.CoordDir, "runs") }

func (r *CLIRunner) logPath(runID ids.RunId) string {
	return filepath.Join(r.runsDir(), string(runID)+".log")
}

func (r *CLIRunner) metaPath(runID ids.RunId) string {
	return filepath.Join(r.runsDir(), string(runID)+".json")
}

// EnsureRunsDir creates the runs directory if absent.
func (r *CLIRunner) EnsureRunsDir() error {
	if err := os.MkdirAll(r.runsDir(), 0755); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "creating runs dir")
	}
	return nil
}

// InitializeLogFile creates (or truncates) the log file for run.Id.
func (r *CLIRunner) InitializeLogFile(run models.Run) error {
	if err := r.EnsureRunsDir(); err != nil {
		return err
	}
	f, err := os.OpenFile(r.logPath(run.Id), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "initializing log file for run %s", run.Id)
	}
	return f.Close()
}

// AppendLog appends text to runID's log file, creating it if absent.
func (r *CLIRunner) AppendLog(runID ids.RunId, text string) error {
	if err := r.EnsureRunsDir(); err != nil {
		return err
	}
	f, err := os.OpenFile(r.logPath(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "appending log for run %s", runID)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "appending log for run %s", runID)
	}
	return nil
}

// SaveRunMetadata validates and atomically writes run's metadata.
func (r *CLIRunner) SaveRunMetadata(run models.Run) error {
	if err := r.EnsureRunsDir(); err != nil {
		return err
	}
	if err := run.Validate(); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "run %s", run.Id)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "marshaling run %s", run.Id)
	}
	if err := filelock.LockAndWrite(r.metaPath(run.Id), data); err != nil {
		return taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "writing run metadata for %s", run.Id)
	}
	return nil
}

// LoadRunMetadata reads back a previously saved Run record.
func (r *CLIRunner) LoadRunMetadata(runID ids.RunId) (models.Run, error) {
	var run models.Run
	data, err := os.ReadFile(r.metaPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return run, taskforgeerr.New(taskforgeerr.KindNotFound, "run %s metadata not found", runID)
		}
		return run, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "reading run metadata for %s", runID)
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&run); err != nil {
		return run, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "decoding run metadata for %s", runID)
	}
	if err := run.Validate(); err != nil {
		return run, taskforgeerr.Wrap(taskforgeerr.KindValidationError, err, "run %s", runID)
	}
	return run, nil
}

// ReadLog returns the full contents of runID's log file.
func (r *CLIRunner) ReadLog(runID ids.RunId) (string, error) {
	data, err := os.ReadFile(r.logPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", taskforgeerr.New(taskforgeerr.KindNotFound, "run %s log not found", runID)
		}
		return "", taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "reading log for run %s", runID)
	}
	return string(data), nil
}

// ListRunLogs returns every run id with a log file, sorted for determinism.
func (r *CLIRunner) ListRunLogs() ([]ids.RunId, error) {
	entries, err := os.ReadDir(r.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []ids.RunId{}, nil
		}
		return nil, taskforgeerr.Wrap(taskforgeerr.KindIOError, err, "listing runs dir")
	}
	runIDs := make([]ids.RunId, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := e.Name(); strings.HasSuffix(name, ".log") {
			runIDs = append(runIDs, ids.RunId(strings.TrimSuffix(name, ".log")))
		}
	}
	sort.Slice(runIDs, func(i, j int) bool { return runIDs[i] < runIDs[j] })
	return runIDs, nil
}

// RunAgent invokes the agent CLI with prompt in cwd. Transient
// AgentExecutionErrors are retried with exponential backoff up to
// MaxRetries; a rate-limited error is instead handled by a single hard wait
// on the reported Retry-After hint, then one retry, since a rate limit
// reset is a known point in time rather than something backoff should
// guess at.
func (r *CLIRunner) RunAgent(ctx context.Context, agentType, model, prompt, cwd string, runID ids.RunId) (Result, error) {
	if runID == "" {
		runID = ids.NewRunId()
	}

	var final Result
	attempt := func() error {
		res, err := r.invokeWithRateLimitRetry(ctx, agentType, model, prompt, cwd)
		if err != nil {
			if taskforgeerr.KindOf(err) != taskforgeerr.KindAgentExecutionError {
				return backoff.Permanent(err)
			}
			return err
		}
		final = res
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries()), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return Result{}, err
	}
	final.RunId = runID
	return final, nil
}

func (r *CLIRunner) invokeWithRateLimitRetry(ctx context.Context, agentType, model, prompt, cwd string) (Result, error) {
	res, err := r.invoke(ctx, agentType, model, prompt, cwd)
	if err == nil {
		return res, nil
	}

	var tfErr *taskforgeerr.Error
	if !errors.As(err, &tfErr) || !tfErr.RateLimited {
		return Result{}, err
	}

	info := &budget.RateLimitInfo{}
	if resetAt, parseErr := time.Parse(time.RFC3339, tfErr.RetryAfter); parseErr == nil {
		info.ResetAt = resetAt
	}
	waiter := budget.NewRateLimitWaiter(24*time.Hour, 15*time.Second, 30*time.Second, r.Logger)
	if !waiter.ShouldWait(info) {
		return Result{}, err
	}
	if waitErr := waiter.WaitForReset(ctx, info); waitErr != nil {
		return Result{}, taskforgeerr.Wrap(taskforgeerr.KindAgentExecutionError, waitErr, "waiting for rate limit reset")
	}
	return r.invoke(ctx, agentType, model, prompt, cwd)
}

func (r *CLIRunner) invoke(ctx context.Context, agentType, model, prompt, cwd string) (Result, error) {
	if prompt == "" {
		return Result{}, taskforgeerr.New(taskforgeerr.KindValidationError, "prompt is required")
	}

	ctxToUse := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	claudePath := r.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}
	args := buildArgs(agentType, model, prompt)

	start := time.Now()
	out, err := r.executor().Run(ctxToUse, cwd, claudePath, args...)
	duration := time.Since(start)

	if err != nil {
		if info := budget.ParseRateLimitFromError(err.Error()); info != nil {
			return Result{}, rateLimitError(info, err)
		}
		return Result{}, taskforgeerr.Wrap(taskforgeerr.KindAgentExecutionError, err, "invoking agent")
	}
	if info := budget.ParseRateLimitFromOutput(out); info != nil {
		return Result{}, rateLimitError(info, nil)
	}

	env, err := jsonx.ParseEnvelope([]byte(out))
	if err != nil {
		return Result{}, taskforgeerr.Wrap(taskforgeerr.KindParseError, err, "parsing agent response")
	}
	content := env.Content
	if content == "" {
		content = out
	}
	return Result{FinalResponse: content, SessionID: env.SessionID, Usage: &Usage{Duration: duration}}, nil
}

func rateLimitError(info *budget.RateLimitInfo, cause error) *taskforgeerr.Error {
	return &taskforgeerr.Error{
		Kind:        taskforgeerr.KindAgentExecutionError,
		Message:     "agent rate limited",
		Cause:       cause,
		RateLimited: true,
		RetryAfter:  info.ResetAt.Format(time.RFC3339),
	}
}

func buildArgs(agentType, model, prompt string) []string {
	args := []string{}
	if model != "" {
		args = append(args, "--model", model)
	}
	if agentType != "" {
		args = append(args, "--append-system-prompt", fmt.Sprintf("You are acting as the %s role in an automated task pipeline.", agentType))
	}
	args = append(args, "--output-format", "json")
	args = append(args, "--permission-mode", "bypassPermissions")
	args = append(args, "--settings", `{"disableAllHooks": true}`)
	args = append(args, "-p", prompt)
	return args
}

func (r *CLIRunner) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

func (r *CLIRunner) maxRetries() uint64 {
	if r.MaxRetries <= 0 {
		return 3
	}
	return uint64(r.MaxRetries)
}
