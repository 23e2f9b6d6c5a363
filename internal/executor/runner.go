package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/engine"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

const (
	// Hard ceiling for prompt and team runs. Agent sessions that outlive this
	// are force-killed.
	promptTimeout = 30 * time.Minute

	// Applied to script runs that do not set their own timeoutMinutes.
	defaultScriptTimeoutMinutes = 60

	// Grace period between the kill signal and force-closing the pipes.
	killWaitDelay = 5 * time.Second

	stderrTailBytes = 2048
	outputCapBytes  = 16 * 1024
)

// Config carries the process-spawn settings shared by all action kinds.
type Config struct {
	// AgentBinary is the CLI spawned for prompt and team actions.
	AgentBinary string
	// DefaultModel is passed to the agent CLI when the job sets none.
	DefaultModel string
}

// Runner turns a job's action into an external process and waits for it.
// It implements engine.Executor.
type Runner struct {
	log logx.Logger
	cfg Config
}

func New(cfg Config, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AgentBinary == "" {
		cfg.AgentBinary = "agent"
	}
	return &Runner{log: log, cfg: cfg}
}

func (r *Runner) Execute(ctx context.Context, job store.ScheduledJob) (*engine.ExecResult, error) {
	switch job.Action.Type {
	case store.ActionPrompt:
		return r.runPrompt(ctx, job)
	case store.ActionTeam:
		return r.runTeam(ctx, job)
	case store.ActionScript:
		return r.runScript(ctx, job)
	default:
		return nil, fmt.Errorf("unsupported action type %q", job.Action.Type)
	}
}

func (r *Runner) runPrompt(ctx context.Context, job store.ScheduledJob) (*engine.ExecResult, error) {
	act := job.Action
	if strings.TrimSpace(act.Prompt) == "" {
		return nil, errors.New("prompt action has no prompt text")
	}
	args := r.agentArgs(act)
	return r.spawn(ctx, job, r.cfg.AgentBinary, args, act.Workdir, act.ExecutionMode, promptTimeout)
}

func (r *Runner) runTeam(ctx context.Context, job store.ScheduledJob) (*engine.ExecResult, error) {
	act := job.Action
	if act.TeamID == "" {
		return nil, errors.New("team action has no teamId")
	}
	// Only the prompt strategy spawns a process; other strategies belong to
	// the team orchestrator and are not runnable from here.
	if act.ExecutionStrategy != "" && act.ExecutionStrategy != "prompt" {
		return nil, fmt.Errorf("unsupported team execution strategy %q", act.ExecutionStrategy)
	}
	args := r.agentArgs(act)
	args = append(args, "--team", act.TeamID)
	if len(act.TaskIDs) > 0 {
		args = append(args, "--tasks", strings.Join(act.TaskIDs, ","))
	}
	return r.spawn(ctx, job, r.cfg.AgentBinary, args, act.Workdir, act.ExecutionMode, promptTimeout)
}

func (r *Runner) agentArgs(act store.JobAction) []string {
	args := []string{"-p", act.Prompt}
	model := act.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if len(act.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(act.AllowedTools, ","))
	}
	return args
}

func (r *Runner) runScript(ctx context.Context, job store.ScheduledJob) (*engine.ExecResult, error) {
	act := job.Action
	if act.ScriptPath == "" {
		return nil, errors.New("script action has no scriptPath")
	}
	if _, err := os.Stat(act.ScriptPath); err != nil {
		return nil, fmt.Errorf("script not found: %w", err)
	}

	name, args := resolveInterpreter(act.ScriptPath, runtime.GOOS)
	args = append(args, act.Args...)

	return r.spawn(ctx, job, name, args, filepath.Dir(act.ScriptPath), act.ExecutionMode, scriptTimeout(act.TimeoutMinutes))
}

// scriptTimeout resolves the per-script timeout: unset falls back to the
// default, explicit zero disables it.
func scriptTimeout(minutes *int) time.Duration {
	m := defaultScriptTimeoutMinutes
	if minutes != nil {
		m = *minutes
	}
	if m <= 0 {
		return 0
	}
	return time.Duration(m) * time.Minute
}

// resolveInterpreter maps a script file to the command that runs it. Windows
// batch files go through cmd, PowerShell scripts through the platform's
// PowerShell, anything else executes directly.
func resolveInterpreter(path, goos string) (name string, args []string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ps1":
		if goos == "windows" {
			return "powershell", []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", path}
		}
		return "pwsh", []string{"-NoProfile", "-File", path}
	case ".bat", ".cmd":
		if goos == "windows" {
			return "cmd", []string{"/C", path}
		}
		return path, nil
	default:
		return path, nil
	}
}

// spawn runs one child process. A zero timeout means the run is bounded only
// by the caller's context. Interactive runs return as soon as the process has
// started; background runs wait for exit and capture output.
func (r *Runner) spawn(ctx context.Context, job store.ScheduledJob, name string, args []string, dir string, mode store.ExecutionMode, timeout time.Duration) (*engine.ExecResult, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	// Without WaitDelay a killed child can leave Wait blocked on pipe drain.
	cmd.WaitDelay = killWaitDelay
	if dir != "" {
		cmd.Dir = dir
	}

	if mode == store.ModeInteractive {
		// The child outlives this call; the reaper releases the timeout
		// context once it exits.
		return r.spawnInteractive(cmd, job, cancel)
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	r.log.Info("spawning job process",
		logx.String("job", job.ID), logx.String("bin", name), logx.Int("args", len(args)))
	err := cmd.Run()
	dur := time.Since(started)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("process killed after %s timeout%s", timeout, stderrSuffix(stderr.Bytes()))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("process exited with code %d%s", exitErr.ExitCode(), stderrSuffix(stderr.Bytes()))
		}
		return nil, fmt.Errorf("process start failed: %w", err)
	}

	return &engine.ExecResult{
		Output: truncateOutput(stdout.String()),
		Metadata: map[string]any{
			"exitCode":   0,
			"durationMs": dur.Milliseconds(),
		},
	}, nil
}

// spawnInteractive starts the process and leaves it alive; the run is
// recorded as completed once the child has launched. A reaper goroutine
// collects the exit status so the child never lingers as a zombie.
func (r *Runner) spawnInteractive(cmd *exec.Cmd, job store.ScheduledJob, cancel context.CancelFunc) (*engine.ExecResult, error) {
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("process start failed: %w", err)
	}
	pid := cmd.Process.Pid
	r.log.Info("interactive process started", logx.String("job", job.ID), logx.Int("pid", pid))
	go func() {
		defer cancel()
		if err := cmd.Wait(); err != nil {
			r.log.Debug("interactive process exited", logx.String("job", job.ID), logx.Err(err))
		}
	}()
	return &engine.ExecResult{
		Output:   fmt.Sprintf("started interactive process (pid %d)", pid),
		Metadata: map[string]any{"pid": pid, "interactive": true},
	}, nil
}

// stderrSuffix renders the tail of captured stderr for error messages, so a
// failing child's diagnostics survive into run history without flooding it.
func stderrSuffix(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return ""
	}
	if len(s) > stderrTailBytes {
		s = "..." + s[len(s)-stderrTailBytes:]
	}
	return ": " + s
}

func truncateOutput(s string) string {
	if len(s) <= outputCapBytes {
		return s
	}
	return s[:outputCapBytes] + "\n... (output truncated)"
}
