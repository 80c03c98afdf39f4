package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/pkg/schema"
)

func TestExecute_CapturesOutputAndExitCode(t *testing.T) {
	s := NewSubprocessSandbox()
	res, err := s.Execute(context.Background(), ExecSpec{
		Command: "sh",
		Args:    []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecute_Stdin(t *testing.T) {
	s := NewSubprocessSandbox()
	res, err := s.Execute(context.Background(), ExecSpec{
		Command: "cat",
		Stdin:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecute_TimeoutKillsProcess(t *testing.T) {
	s := NewSubprocessSandbox()
	start := time.Now()
	_, err := s.Execute(context.Background(), ExecSpec{
		Command: "sleep",
		Args:    []string{"10"},
		Limits:  Limits{Timeout: 50 * time.Millisecond},
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 6*time.Second)

	var ae *schema.ArborError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeStepTimeout, ae.Code)
}

func TestExecute_OutputCapped(t *testing.T) {
	s := NewSubprocessSandbox()
	res, err := s.Execute(context.Background(), ExecSpec{
		Command: "sh",
		Args:    []string{"-c", "yes x | head -c 4096"},
		Limits:  Limits{MaxOutputBytes: 128},
	})
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 128)
}

func TestExecute_MissingCommand(t *testing.T) {
	s := NewSubprocessSandbox()
	_, err := s.Execute(context.Background(), ExecSpec{Command: "definitely-not-a-binary"})
	require.Error(t, err)

	var ae *schema.ArborError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeToolExecution, ae.Code)
}

func TestExecute_EmptyCommand(t *testing.T) {
	s := NewSubprocessSandbox()
	_, err := s.Execute(context.Background(), ExecSpec{})
	require.Error(t, err)
}

func TestExecute_CancelledContext(t *testing.T) {
	s := NewSubprocessSandbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Execute(ctx, ExecSpec{Command: "echo", Args: []string{"hi"}})
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "timeout"))
}
