package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalPolicy_EmptyRuleIsNil(t *testing.T) {
	p, err := NewFatalPolicy("")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, p.Escalates("run_sql", "TOOL_EXECUTION", "boom", 1))
}

func TestFatalPolicy_MatchesToolAndCode(t *testing.T) {
	p, err := NewFatalPolicy(`tool == "run_sql" and code == "TOOL_EXECUTION"`)
	require.NoError(t, err)

	assert.True(t, p.Escalates("run_sql", "TOOL_EXECUTION", "syntax error", 1))
	assert.False(t, p.Escalates("run_chart", "TOOL_EXECUTION", "syntax error", 1))
	assert.False(t, p.Escalates("run_sql", "STEP_TIMEOUT", "too slow", 1))
}

func TestFatalPolicy_FailureThreshold(t *testing.T) {
	p, err := NewFatalPolicy(`failures >= 3`)
	require.NoError(t, err)

	assert.False(t, p.Escalates("echo", "TOOL_EXECUTION", "boom", 2))
	assert.True(t, p.Escalates("echo", "TOOL_EXECUTION", "boom", 3))
}

func TestFatalPolicy_CompileErrorSurfaces(t *testing.T) {
	_, err := NewFatalPolicy(`tool ==`)
	require.Error(t, err)
}

func TestPhaseTransitions(t *testing.T) {
	p := PhaseInit
	require.NoError(t, transition(&p, PhaseDeciding))
	require.NoError(t, transition(&p, PhaseValidating))
	require.NoError(t, transition(&p, PhaseExecuting))
	require.NoError(t, transition(&p, PhaseRecording))
	require.NoError(t, transition(&p, PhaseDeciding))
	require.NoError(t, transition(&p, PhaseTerminated))

	// Terminal phases have no successors.
	assert.Error(t, transition(&p, PhaseDeciding))

	q := PhaseInit
	assert.Error(t, transition(&q, PhaseExecuting))
}
