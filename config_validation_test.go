package sqlflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig_RejectsUnknownDialect(t *testing.T) {
	config := &Config{Dialect: "oracle"}

	err := validateConfig(config)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigValidation)
	assert.Contains(t, err.Error(), "invalid dialect")
}

func TestValidateConfig_AcceptsKnownDialects(t *testing.T) {
	for _, d := range []Dialect{DialectSQLite, DialectPostgres, DialectMySQL, ""} {
		err := validateConfig(&Config{Dialect: d})
		assert.NoError(t, err)
	}
}

func TestValidateConfig_RequiresDriverAndConnectionPerDatabase(t *testing.T) {
	config := &Config{
		Databases: map[string]Database{
			"warehouse": {Connection: "postgres://localhost/db"},
		},
	}

	err := validateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver is required")

	config.Databases["warehouse"] = Database{Driver: "pgx"}
	err = validateConfig(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection is required")

	config.Databases["warehouse"] = Database{Driver: "pgx", Connection: "postgres://localhost/db"}
	assert.NoError(t, validateConfig(config))
}

func TestValidateConfig_RejectsNegativeExecutionSettings(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{"negative parallelism", Config{Execution: ExecutionConfig{MaxParallelism: -1}}, "max_parallelism"},
		{"negative retry limit", Config{Execution: ExecutionConfig{RetryLimit: -1}}, "retry_limit"},
		{"negative retry backoff", Config{Execution: ExecutionConfig{RetryBackoff: -time.Second}}, "retry_backoff"},
		{"negative task timeout", Config{Execution: ExecutionConfig{TaskTimeout: -time.Second}}, "task_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(&tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateConfig_AcceptsFailFastAndTaskTimeout(t *testing.T) {
	config := &Config{Execution: ExecutionConfig{FailFast: true, TaskTimeout: 30 * time.Second}}
	assert.NoError(t, validateConfig(config))
}
