package sqlflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableResolver_PrecedenceChain(t *testing.T) {
	t.Setenv("SQLFLOW_TEST_REGION", "process-value")

	resolver := NewVariableResolver(
		map[string]string{"region": "cli-value"},
		map[string]string{"region": "profile-value", "env": "profile-env"},
	)
	resolver.DotEnv = map[string]string{"region": "dotenv-value", "env": "dotenv-env"}

	merged := resolver.Resolve()

	assert.Equal(t, "cli-value", merged["region"])
	assert.Equal(t, "profile-env", merged["env"])
	assert.Equal(t, "process-value", merged["SQLFLOW_TEST_REGION"])
}

func TestVariableResolver_LoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("TOKEN=abc123\n"), 0o644))

	resolver := &VariableResolver{}
	require.NoError(t, resolver.LoadDotEnv(envPath))

	assert.Equal(t, "abc123", resolver.DotEnv["TOKEN"])
}

func TestVariableResolver_LoadDotEnv_MissingFileIsNotError(t *testing.T) {
	resolver := &VariableResolver{}
	err := resolver.LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
	assert.NoError(t, err)
	assert.Empty(t, resolver.DotEnv)
}

func TestVariableResolver_ResolveWithNoLayersIsEmptyButNotNil(t *testing.T) {
	resolver := &VariableResolver{}
	merged := resolver.Resolve()
	assert.NotNil(t, merged)
}
