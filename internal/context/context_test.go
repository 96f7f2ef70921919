package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

func TestOperationPushPopBalanced(t *testing.T) {
	m := New()
	m.PushOperation(OperationFrame{Type: "run"})
	require.NoError(t, m.PopOperation())
	_, ok := m.CurrentOperation()
	assert.False(t, ok)
}

func TestOperationImbalanceWhenSubStackLeaksAcrossPop(t *testing.T) {
	m := New()
	m.PushOperation(OperationFrame{Type: "run"})
	m.PushPipeline(PipelineFrame{Stage: 1})

	err := m.PopOperation()
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ContextImbalance))
}

func TestPopOperationUnderflow(t *testing.T) {
	m := New()
	err := m.PopOperation()
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ContextImbalance))
}

func TestGuardRetryDefault(t *testing.T) {
	m := New()
	f := m.CurrentGuardRetry()
	assert.Equal(t, 1, f.Attempt)
	assert.Equal(t, 3, f.Max)
	assert.Empty(t, f.Tries)
}

func TestHookErrorsAccumulateWithoutStoppingOthers(t *testing.T) {
	m := New()
	m.RecordHookError("h1", "boom")
	m.RecordHookError("h2", "also boom")
	errs := m.HooksErrors()
	require.Len(t, errs, 2)
	assert.Equal(t, "h1", errs[0].HookName)
}
