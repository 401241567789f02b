package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlflow/engine/sqliteengine"
	"sqlflow/parser"
)

// TestLoad_Upsert_MergesByKey is scenario C: target (1,'x'),(2,'y'),
// source (2,'Y'),(3,'z'), key id. After UPSERT, target is exactly
// (1,'x'),(2,'Y'),(3,'z').
func TestLoad_Upsert_MergesByKey(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()

	_, err = eng.Execute(ctx, "CREATE TABLE target (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO target VALUES (1,'x'),(2,'y')", nil)
	require.NoError(t, err)

	_, err = eng.Execute(ctx, "CREATE TABLE source (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO source VALUES (2,'Y'),(3,'z')", nil)
	require.NoError(t, err)

	h := &Handler{Engine: eng}

	_, err = h.Load(ctx, LoadRequest{
		TargetTable: "target",
		SourceTable: "source",
		Mode:        parser.ModeUpsert,
		UpsertKeys:  []string{"id"},
	})
	require.NoError(t, err)

	res, err := eng.Execute(ctx, "SELECT id, val FROM target ORDER BY id", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	assert.Equal(t, int64(1), res.Rows[0][0])
	assert.Equal(t, "x", res.Rows[0][1])
	assert.Equal(t, int64(2), res.Rows[1][0])
	assert.Equal(t, "Y", res.Rows[1][1])
	assert.Equal(t, int64(3), res.Rows[2][0])
	assert.Equal(t, "z", res.Rows[2][1])
}

func TestLoad_Upsert_RequiresKeys(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()
	_, err = eng.Execute(ctx, "CREATE TABLE t (id INTEGER)", nil)
	require.NoError(t, err)

	h := &Handler{Engine: eng}

	_, err = h.Load(ctx, LoadRequest{TargetTable: "t", SourceTable: "t", Mode: parser.ModeUpsert})
	require.Error(t, err)

	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestLoad_Upsert_RejectsNonUniqueKey(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()

	_, err = eng.Execute(ctx, "CREATE TABLE target (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)

	_, err = eng.Execute(ctx, "CREATE TABLE source (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO source VALUES (1,'a'),(1,'b')", nil)
	require.NoError(t, err)

	h := &Handler{Engine: eng}

	_, err = h.Load(ctx, LoadRequest{
		TargetTable: "target",
		SourceTable: "source",
		Mode:        parser.ModeUpsert,
		UpsertKeys:  []string{"id"},
	})
	require.Error(t, err)

	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestLoad_Append_CreatesTargetFromSourceSchema(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()

	_, err = eng.Execute(ctx, "CREATE TABLE source (id INTEGER, val TEXT)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO source VALUES (1,'a')", nil)
	require.NoError(t, err)

	h := &Handler{Engine: eng}

	_, err = h.Load(ctx, LoadRequest{TargetTable: "target", SourceTable: "source", Mode: parser.ModeAppend})
	require.NoError(t, err)

	exists, err := eng.TableExists(ctx, "target")
	require.NoError(t, err)
	assert.True(t, exists)

	res, err := eng.Execute(ctx, "SELECT id, val FROM target", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}
