package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlflow/engine/sqliteengine"
	"sqlflow/parser"
)

func TestCreateTableAs_Replace(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()
	_, err = eng.Execute(ctx, "CREATE TABLE t (id INTEGER)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO t VALUES (1),(2),(3)", nil)
	require.NoError(t, err)

	h := &Handler{Engine: eng}

	_, err = h.CreateTableAs(ctx, CTASRequest{TargetTable: "u", Query: "SELECT count(*) AS n FROM t"})
	require.NoError(t, err)

	res, err := eng.Execute(ctx, "SELECT n FROM u", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(3), res.Rows[0][0])

	// Re-running REPLACE on unchanged sources is a no-op: same output (invariant 3).
	_, err = h.CreateTableAs(ctx, CTASRequest{TargetTable: "u", Query: "SELECT count(*) AS n FROM t"})
	require.NoError(t, err)

	res, err = eng.Execute(ctx, "SELECT n FROM u", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows[0][0])
}

func TestCreateTableAs_Upsert(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()

	_, err = eng.Execute(ctx, "CREATE TABLE target (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO target VALUES (1,'x'),(2,'y')", nil)
	require.NoError(t, err)

	_, err = eng.Execute(ctx, "CREATE TABLE src (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO src VALUES (2,'Y'),(3,'z')", nil)
	require.NoError(t, err)

	h := &Handler{Engine: eng}

	_, err = h.CreateTableAs(ctx, CTASRequest{
		TargetTable: "target",
		Query:       "SELECT id, val FROM src",
		Mode:        parser.ModeUpsert,
		UpsertKeys:  []string{"id"},
	})
	require.NoError(t, err)

	res, err := eng.Execute(ctx, "SELECT id, val FROM target ORDER BY id", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "Y", res.Rows[1][1])

	exists, err := eng.TableExists(ctx, "sf_stage_target")
	require.NoError(t, err)
	assert.False(t, exists)
}
