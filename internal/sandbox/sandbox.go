// Package sandbox executes untrusted helper processes, such as interpreter
// snippets planned by the model, under enforced limits. Only timeout and
// output-size enforcement is provided; commands run with the privileges of
// the host process.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/arbor-ai/arbor/pkg/schema"
)

const defaultMaxOutputBytes = 1 << 20 // 1 MiB

// Limits constrains one sandboxed execution.
type Limits struct {
	Timeout        time.Duration `json:"timeout,omitempty"`
	MaxOutputBytes int64         `json:"max_output_bytes,omitempty"`
}

// ExecSpec describes the process to run.
type ExecSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Stdin   string   `json:"stdin,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	Limits  Limits   `json:"limits,omitempty"`
}

// ExecResult carries the captured output of a completed process.
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Sandbox runs processes under Limits. Implementations must be safe for
// concurrent use.
type Sandbox interface {
	Execute(ctx context.Context, spec ExecSpec) (*ExecResult, error)
}

// Compile-time interface check.
var _ Sandbox = (*SubprocessSandbox)(nil)

// SubprocessSandbox is the portable Sandbox implementation built on os/exec.
type SubprocessSandbox struct{}

// NewSubprocessSandbox creates a SubprocessSandbox.
func NewSubprocessSandbox() *SubprocessSandbox {
	return &SubprocessSandbox{}
}

// Execute runs the process to completion, enforcing the timeout and capping
// captured output. A non-zero exit is returned as a result, not an error;
// errors are reserved for failures to run or limit violations.
func (s *SubprocessSandbox) Execute(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if spec.Command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sandbox command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	execCtx := ctx
	if spec.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, spec.Limits.Timeout)
		defer cancel()
	}

	maxOut := spec.Limits.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = defaultMaxOutputBytes
	}

	cmd := exec.CommandContext(execCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if spec.Stdin != "" {
		cmd.Stdin = bytes.NewBufferString(spec.Stdin)
	}

	var stdout, stderr cappedBuffer
	stdout.max = maxOut
	stderr.max = maxOut
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Kill on context cancellation and allow 5s for pipe drain.
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepTimeout,
			"sandboxed process exceeded timeout of %s", spec.Limits.Timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"run %q: %s", spec.Command, err.Error()).WithCause(err)
	}

	return result, nil
}

// cappedBuffer discards bytes past max instead of failing the write, so a
// chatty process cannot balloon memory.
type cappedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string { return b.buf.String() }
