// Package command runs external processes for the deployment pipeline.
//
// A non-zero exit is a normal Result, not an error. Errors are reserved for
// processes that could not be started, that exceeded their timeout, or whose
// context was cancelled; in the last two cases the whole process group is
// killed so no child outlives the run.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// DefaultTimeout applies when a Command sets none.
const DefaultTimeout = 5 * time.Minute

// waitDelay bounds how long Wait blocks on output pipes after a kill.
const waitDelay = 2 * time.Second

// Command describes one process invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string // Added to the parent environment
	Timeout time.Duration

	// OnOutput receives each line of stdout and stderr as it is produced.
	// Calls are serialized.
	OnOutput func(line string)
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the process exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stdout and stderr joined.
func (r Result) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Shell wraps a command line for `sh -c`.
func Shell(line string) Command {
	return Command{Name: "sh", Args: []string{"-c", line}}
}

// =============================================================================
// ExecRunner
// =============================================================================

// ExecRunner runs commands as OS processes. It holds no per-invocation
// state and is safe for concurrent use.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "command_runner")}
}

// Run executes cmd and waits for it.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Name == "" {
		return Result{}, errors.New("command name is required")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	var mu sync.Mutex
	outLines := &lineWriter{mu: &mu, fn: c.OnOutput}
	errLines := &lineWriter{mu: &mu, fn: c.OnOutput}
	cmd.Stdout = multiWriter(&stdout, outLines)
	cmd.Stderr = multiWriter(&stderr, errLines)

	start := time.Now()
	r.logger.Debug("running command", "command", c.Name, "dir", c.Dir, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.Name, err)
	}
	waitErr := cmd.Wait()
	outLines.Flush()
	errLines.Flush()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil {
		res.ExitCode = -1
		if ctx.Err() != nil {
			r.logger.Info("command cancelled", "command", c.Name, "duration", res.Duration)
			return res, domain.NewPipelineError(domain.KindCancelled, "run", "",
				fmt.Sprintf("%s cancelled", c.Name), ctx.Err())
		}
		r.logger.Warn("command timed out", "command", c.Name, "timeout", timeout)
		return res, domain.NewPipelineError(domain.KindTimeout, "run", "",
			fmt.Sprintf("%s did not finish within %s", c.Name, timeout), runCtx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("wait %s: %w", c.Name, waitErr)
	}
	return res, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[k]; !overridden {
			env = append(env, kv)
		}
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
