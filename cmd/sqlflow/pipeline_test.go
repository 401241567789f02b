package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlflow"
	"sqlflow/engine/sqliteengine"
	"sqlflow/executor"
	"sqlflow/state"
	"sqlflow/state/sqlitestate"
)

func TestParseVarFlags_SplitsOnFirstEquals(t *testing.T) {
	vars := parseVarFlags([]string{"region=us", "threshold=10=20", "malformed"})

	assert.Equal(t, "us", vars["region"])
	assert.Equal(t, "10=20", vars["threshold"])
	assert.NotContains(t, vars, "malformed")
}

func TestResolveVariables_CLIWinsOverProfile(t *testing.T) {
	cfg := &sqlflow.Config{Variables: map[string]string{"region": "eu"}}

	vars, err := resolveVariables(cfg, map[string]string{"region": "us"})
	require.NoError(t, err)
	assert.Equal(t, "us", vars["region"])
}

func TestBuildTasks_RunsSourceLoadTransformExportEndToEnd(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,name\n1,alice\n2,bob\n"), 0o600))

	outPath := filepath.Join(dir, "out.csv")

	scriptPath := filepath.Join(dir, "pipeline.sf")
	script := fmt.Sprintf(`
SOURCE s TYPE CSV PARAMS {"path":%q,"has_header":true};
LOAD t FROM s;
CREATE TABLE u AS SELECT count(*) AS n FROM t;
EXPORT u TO %q TYPE CSV OPTIONS {"header":true};
`, csvPath, outPath)
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o600))

	_, plan, warnings, err := buildPlan(scriptPath, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, plan.Steps, 4)

	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	backend, err := sqlitestate.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.CreateRun("run-1", "hash", []byte(`{}`)))

	tasks, err := buildTasks(plan, eng, backend, defaultRegistry(), "testpipeline", 2, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	scheduler := &executor.Scheduler{
		MaxParallelism: 2,
		RetryBackoff:   time.Millisecond,
		State:          backend,
		RunID:          "run-1",
	}

	summary, err := scheduler.Run(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, state.RunSuccess, summary.Status)

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "2")
}
