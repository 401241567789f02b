package sqlflow

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestLoadConfig_DefaultsOnMissingFile(t *testing.T) {
	config, err := LoadConfig("non-existent-profile.yaml")
	assert.NoError(t, err)
	assert.True(t, config != nil)

	assert.Equal(t, DialectSQLite, config.Dialect)
	assert.Equal(t, "sqlite3", config.StateBackend.Driver)
	assert.Equal(t, "sqlflow_state.db", config.StateBackend.Connection)
	assert.Equal(t, 4, config.Execution.MaxParallelism)
	assert.Equal(t, 3, config.Execution.RetryLimit)
	assert.Equal(t, time.Second, config.Execution.RetryBackoff)
	assert.Equal(t, "./out", config.Export.OutputDir)
}

func TestGetDefaultConfig_InitializesMaps(t *testing.T) {
	config := getDefaultConfig()
	assert.True(t, config.Databases != nil)
	assert.True(t, config.Variables != nil)
}

func TestApplyDefaults_FillsZeroValuesOnly(t *testing.T) {
	config := &Config{
		Execution: ExecutionConfig{MaxParallelism: 8},
	}
	applyDefaults(config)

	assert.Equal(t, 8, config.Execution.MaxParallelism)
	assert.Equal(t, 3, config.Execution.RetryLimit)
	assert.Equal(t, DialectSQLite, config.Dialect)
}
