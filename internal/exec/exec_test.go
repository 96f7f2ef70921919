package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/variable"
)

func TestExecuteCommandCapturesStdoutTrimmed(t *testing.T) {
	r := New(Config{}, nil)
	out, err := r.ExecuteCommand(context.Background(), "echo hello", environment.CommandOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.ExecuteCommand(context.Background(), "exit 7", environment.CommandOptions{})
	require.Error(t, err)
	assert.True(t, mllderr.HasCode(err, mllderr.ExecNonzero))
}

func TestBuildBashEnvSetsMetadataVars(t *testing.T) {
	v := variable.CreateSimpleText("greeting", "hi", variable.Source{}, variable.Options{})
	env := BuildBashEnv(map[string]*variable.Variable{"greeting": v})

	assert.Contains(t, env, "greeting=hi")
	assert.Contains(t, env, "MLLD_IS_VARIABLE_greeting=true")
	assert.Contains(t, env, "MLLD_TYPE_greeting=text")
}
