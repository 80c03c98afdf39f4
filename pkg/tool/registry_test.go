package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// stubTool is a minimal Tool for registry tests.
type stubTool struct {
	name string
	desc string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return s.desc }
func (s *stubTool) InputSchema() Schema {
	return Schema{"guidance": {Type: "string", Required: true}}
}
func (s *stubTool) Invoke(_ context.Context, _ *Snapshot, _ map[string]any) (*schema.Response, error) {
	return schema.NewText("ok", s.desc), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(BaseBranch, &stubTool{name: "run_sql"}))

	got, err := reg.Get(BaseBranch, "run_sql")
	require.NoError(t, err)
	assert.Equal(t, "run_sql", got.Name())
}

func TestRegistry_Register_DuplicateOnBranch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(BaseBranch, &stubTool{name: "dup"}))

	err := reg.Register(BaseBranch, &stubTool{name: "dup"})
	require.Error(t, err)

	var arbErr *schema.ArborError
	require.True(t, errors.As(err, &arbErr))
	assert.Equal(t, schema.ErrCodeConflict, arbErr.Code)
}

func TestRegistry_Register_UnknownBranch(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("charts", &stubTool{name: "run_chart"})
	require.Error(t, err)

	var arbErr *schema.ArborError
	require.True(t, errors.As(err, &arbErr))
	assert.Equal(t, schema.ErrCodeNotFound, arbErr.Code)
}

func TestRegistry_ToolScopedToBranch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddBranch("charts", "Chart work", BaseBranch, ""))
	require.NoError(t, reg.Register("charts", &stubTool{name: "run_chart"}))

	_, err := reg.Get(BaseBranch, "run_chart")
	require.Error(t, err)

	var arbErr *schema.ArborError
	require.True(t, errors.As(err, &arbErr))
	assert.Equal(t, schema.ErrCodeUnknownTool, arbErr.Code)

	got, err := reg.Get("charts", "run_chart")
	require.NoError(t, err)
	assert.Equal(t, "run_chart", got.Name())
}

func TestRegistry_SameToolOnMultipleBranches(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddBranch("charts", "Chart work", BaseBranch, ""))

	shared := &stubTool{name: "format_output"}
	require.NoError(t, reg.Register(BaseBranch, shared))
	require.NoError(t, reg.Register("charts", shared))
}

func TestRegistry_AddBranch_Validation(t *testing.T) {
	reg := NewRegistry()

	err := reg.AddBranch(BaseBranch, "x", BaseBranch, "")
	require.Error(t, err)

	err = reg.AddBranch("orphan", "x", "missing-parent", "")
	require.Error(t, err)

	require.NoError(t, reg.AddBranch("charts", "x", BaseBranch, ""))
	err = reg.AddBranch("charts", "x", BaseBranch, "")
	require.Error(t, err)
}

func TestRegistry_RemoveBranch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddBranch("charts", "x", BaseBranch, ""))
	require.NoError(t, reg.RemoveBranch("charts"))
	assert.False(t, reg.HasBranch("charts"))

	err := reg.RemoveBranch(BaseBranch)
	require.Error(t, err)
}

func TestRegistry_View(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddBranch("charts", "Chart work", BaseBranch, "Visualisation branch"))
	require.NoError(t, reg.Register(BaseBranch, &stubTool{name: "run_sql"}))
	require.NoError(t, reg.Register(BaseBranch, &stubTool{name: "format_output"}))

	view, err := reg.View(BaseBranch)
	require.NoError(t, err)
	require.Len(t, view.Tools, 2)
	// Sorted by name.
	assert.Equal(t, "format_output", view.Tools[0].Name())
	assert.Equal(t, "run_sql", view.Tools[1].Name())
	assert.Equal(t, "Visualisation branch", view.Branches["charts"])

	child, err := reg.View("charts")
	require.NoError(t, err)
	assert.Contains(t, child.Branches, BaseBranch)
}

func TestValidateInputs(t *testing.T) {
	s := Schema{
		"guidance": {Type: "string", Required: true},
		"limit":    {Type: "integer"},
	}

	require.NoError(t, ValidateInputs(s, map[string]any{"guidance": "count rows"}))
	require.NoError(t, ValidateInputs(s, map[string]any{"guidance": "count rows", "limit": float64(10)}))

	err := ValidateInputs(s, map[string]any{})
	require.Error(t, err)
	var arbErr *schema.ArborError
	require.True(t, errors.As(err, &arbErr))
	assert.Equal(t, schema.ErrCodeInputValidation, arbErr.Code)

	err = ValidateInputs(s, map[string]any{"guidance": 42})
	require.Error(t, err)

	err = ValidateInputs(s, map[string]any{"guidance": "x", "limit": 2.5})
	require.Error(t, err)

	err = ValidateInputs(s, map[string]any{"guidance": "x", "surprise": true})
	require.Error(t, err)
}
