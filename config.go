package sqlflow

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrConfigValidation is returned when configuration validation fails.
var ErrConfigValidation = errors.New("configuration validation failed")

// Config is the run/profile configuration for a sqlflow invocation: which
// dialect and databases a pipeline's SOURCE/LOAD/EXPORT directives resolve
// against, where run state is persisted, default pipeline variables, and
// execution tuning.
type Config struct {
	Dialect       Dialect             `yaml:"dialect"`
	Databases     map[string]Database `yaml:"databases"`
	Variables     map[string]string   `yaml:"variables"`
	VariableFiles []string            `yaml:"variable_files"`
	StateBackend  StateBackendConfig  `yaml:"state_backend"`
	Execution     ExecutionConfig     `yaml:"execution"`
	Export        ExportConfig        `yaml:"export"`
}

// Database represents connection configuration for one named database, as
// referenced by a SOURCE or LOAD directive's connection profile.
type Database struct {
	Driver     string `yaml:"driver"`
	Connection string `yaml:"connection"`
	Schema     string `yaml:"schema"`
}

// StateBackendConfig points at the store backing run/task/watermark state.
type StateBackendConfig struct {
	Driver     string `yaml:"driver"`
	Connection string `yaml:"connection"`
}

// ExecutionConfig tunes the task executor's worker pool and retry policy.
type ExecutionConfig struct {
	MaxParallelism int           `yaml:"max_parallelism"`
	RetryLimit     int           `yaml:"retry_limit"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	// TaskTimeout, when non-zero, bounds a single task attempt's SQL
	// execution; exceeding it aborts the query via the engine rather than
	// letting it run unbounded.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// FailFast, once a task fails, force-aborts every already-running task
	// via the engine instead of the default of letting them finish.
	FailFast bool `yaml:"fail_fast"`
}

// ExportConfig holds the profile's export settings. OutputDir is loaded
// and defaulted here; no export.Writer or EXPORT step reads it.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LoadConfig loads configuration from the specified file. A missing file is
// not an error: it yields the default configuration instead, since a bare
// `sqlflow run script.sf` with no profile is a supported invocation.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	_, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config

	if err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDefaults(&config)

	return &config, nil
}

// validateConfig validates the configuration for common errors and inconsistencies.
func validateConfig(config *Config) error {
	validDialects := map[Dialect]bool{
		DialectSQLite:   true,
		DialectPostgres: true,
		DialectMySQL:    true,
	}

	if config.Dialect != "" && !validDialects[config.Dialect] {
		return fmt.Errorf("%w: invalid dialect %q: must be one of sqlite, postgres, mysql", ErrConfigValidation, config.Dialect)
	}

	for name, db := range config.Databases {
		if db.Driver == "" {
			return fmt.Errorf("%w: databases.%s: driver is required", ErrConfigValidation, name)
		}

		if db.Connection == "" {
			return fmt.Errorf("%w: databases.%s: connection is required", ErrConfigValidation, name)
		}
	}

	if config.Execution.MaxParallelism < 0 {
		return fmt.Errorf("%w: execution.max_parallelism must be non-negative, got %d", ErrConfigValidation, config.Execution.MaxParallelism)
	}

	if config.Execution.RetryLimit < 0 {
		return fmt.Errorf("%w: execution.retry_limit must be non-negative, got %d", ErrConfigValidation, config.Execution.RetryLimit)
	}

	if config.Execution.RetryBackoff < 0 {
		return fmt.Errorf("%w: execution.retry_backoff must be non-negative, got %s", ErrConfigValidation, config.Execution.RetryBackoff)
	}

	if config.Execution.TaskTimeout < 0 {
		return fmt.Errorf("%w: execution.task_timeout must be non-negative, got %s", ErrConfigValidation, config.Execution.TaskTimeout)
	}

	return nil
}

// getDefaultConfig returns the default configuration: an embedded sqlite
// engine doubling as its own state backend, four-way parallelism, and a
// handful of retries with a modest backoff.
func getDefaultConfig() *Config {
	return &Config{
		Dialect:   DialectSQLite,
		Databases: make(map[string]Database),
		Variables: make(map[string]string),
		StateBackend: StateBackendConfig{
			Driver:     "sqlite3",
			Connection: "sqlflow_state.db",
		},
		Execution: ExecutionConfig{
			MaxParallelism: 4,
			RetryLimit:     3,
			RetryBackoff:   time.Second,
		},
		Export: ExportConfig{
			OutputDir: "./out",
		},
	}
}

// applyDefaults applies default values to missing configuration fields.
func applyDefaults(config *Config) {
	if config.Dialect == "" {
		config.Dialect = DialectSQLite
	}

	if config.Databases == nil {
		config.Databases = make(map[string]Database)
	}

	if config.Variables == nil {
		config.Variables = make(map[string]string)
	}

	if config.StateBackend.Driver == "" {
		config.StateBackend.Driver = "sqlite3"
	}

	if config.StateBackend.Connection == "" {
		config.StateBackend.Connection = "sqlflow_state.db"
	}

	if config.Execution.MaxParallelism == 0 {
		config.Execution.MaxParallelism = 4
	}

	if config.Execution.RetryLimit == 0 {
		config.Execution.RetryLimit = 3
	}

	if config.Execution.RetryBackoff == 0 {
		config.Execution.RetryBackoff = time.Second
	}

	if config.Export.OutputDir == "" {
		config.Export.OutputDir = "./out"
	}
}

// loadEnvFiles loads a .env file from the current directory if one exists.
func loadEnvFiles() error {
	if fileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
