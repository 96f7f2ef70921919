// Package exec implements exec/command execution (C6): launching
// subprocesses for /run and exe bodies, capturing output, and preparing
// per-language execution environments.
package exec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/logging"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

// Config configures a Runner.
type Config struct {
	// EnhancedBashMode injects mlld_is_variable/mlld_get_type/etc. helper
	// functions into bash code bodies (§4.6).
	EnhancedBashMode bool
}

// Runner implements environment.Executor.
type Runner struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a Runner.
func New(cfg Config, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// ExecuteCommand launches a subprocess via the system shell, captures
// stdout/stderr, and returns trimmed stdout. Non-zero exit fails with
// EXEC_NONZERO carrying stderr in the error details.
func (r *Runner) ExecuteCommand(ctx context.Context, cmd string, opts environment.CommandOptions) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout))
		defer cancel()
	}

	c := exec.CommandContext(runCtx, "sh", "-c", cmd)
	if opts.Cwd != "" {
		c.Dir = opts.Cwd
	}
	c.Env = mergeEnv(os.Environ(), opts.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runID := uuid.NewString()
	r.logger.Debug("exec[%s]: %s", runID, cmd)

	err := c.Run()
	if runCtx.Err() != nil {
		return "", mllderr.Wrap(mllderr.ExecTimeout, runCtx.Err(), "command timed out: %s", cmd)
	}
	if err != nil {
		return "", mllderr.Wrap(mllderr.ExecNonzero, err, "command failed (stderr: %s)", strings.TrimSpace(stderr.String()))
	}
	return trimTrailingNewline(stdout.String()), nil
}

// ExecuteCode prepares a per-language environment and executes code,
// mirroring executeCommand's contract for output capture.
func (r *Runner) ExecuteCode(ctx context.Context, code, language string, params map[string]*variable.Variable) (string, error) {
	switch language {
	case string(variable.LangBash):
		return r.executeBash(ctx, code, params)
	case string(variable.LangJS):
		return r.executeNode(ctx, code, params)
	case string(variable.LangPython):
		return r.executePython(ctx, code, params)
	default:
		return "", mllderr.New(mllderr.InvalidDirective, "unsupported code language %q", language)
	}
}

func (r *Runner) executeBash(ctx context.Context, code string, params map[string]*variable.Variable) (string, error) {
	env := BuildBashEnv(params)
	script := code
	if r.cfg.EnhancedBashMode {
		script = bashHelperFunctions + "\n" + code
	}
	c := exec.CommandContext(ctx, "bash", "-c", script)
	c.Env = mergeEnv(os.Environ(), toEnvMap(env))

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return "", mllderr.Wrap(mllderr.ExecNonzero, err, "bash code failed (stderr: %s)", strings.TrimSpace(stderr.String()))
	}
	return trimTrailingNewline(stdout.String()), nil
}

func (r *Runner) executeNode(ctx context.Context, code string, params map[string]*variable.Variable) (string, error) {
	prelude := jsParamPrelude(params)
	c := exec.CommandContext(ctx, "node", "-e", prelude+"\n"+code)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return "", mllderr.Wrap(mllderr.ExecNonzero, err, "js code failed (stderr: %s)", strings.TrimSpace(stderr.String()))
	}
	return trimTrailingNewline(stdout.String()), nil
}

func (r *Runner) executePython(ctx context.Context, code string, params map[string]*variable.Variable) (string, error) {
	tmp, err := os.CreateTemp("", "mlld-*.py")
	if err != nil {
		return "", mllderr.Wrap(mllderr.ExecNonzero, err, "failed to create python temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(code); err != nil {
		return "", mllderr.Wrap(mllderr.ExecNonzero, err, "failed to write python temp file")
	}
	tmp.Close()

	env := BuildBashEnv(params) // parameters passed via environment, per §4.6
	c := exec.CommandContext(ctx, "python3", tmp.Name())
	c.Env = mergeEnv(os.Environ(), toEnvMap(env))

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return "", mllderr.Wrap(mllderr.ExecNonzero, err, "python code failed (stderr: %s)", strings.TrimSpace(stderr.String()))
	}
	return trimTrailingNewline(stdout.String()), nil
}

func trimTrailingNewline(s string) string {
	return strings.TrimSuffix(s, "\n")
}

func mergeEnv(base []string, overlay map[string]string) []string {
	out := append([]string{}, base...)
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}

func toEnvMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if i := strings.IndexByte(p, '='); i >= 0 {
			m[p[:i]] = p[i+1:]
		}
	}
	return m
}
