package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlflow"
	"sqlflow/engine/sqliteengine"
)

func TestOpenEngine_DispatchesByDialect(t *testing.T) {
	eng, err := openEngine(sqlflow.DialectSQLite, ":memory:")
	require.NoError(t, err)
	defer eng.Close()

	_, ok := eng.(*sqliteengine.Engine)
	assert.True(t, ok)
	assert.Equal(t, sqlflow.DialectSQLite, eng.Dialect())
}

func TestOpenEngine_EmptyDialectDefaultsToSQLite(t *testing.T) {
	eng, err := openEngine("", ":memory:")
	require.NoError(t, err)
	defer eng.Close()

	_, ok := eng.(*sqliteengine.Engine)
	assert.True(t, ok)
}

func TestOpenEngine_UnknownDialectIsError(t *testing.T) {
	_, err := openEngine("oracle", "whatever")
	assert.ErrorIs(t, err, sqlflow.ErrUnknownDialect)
}

func TestOpenStateBackend_DefaultsToSQLite(t *testing.T) {
	backend, err := openStateBackend(sqlflow.StateBackendConfig{Connection: ":memory:"})
	require.NoError(t, err)
	defer backend.Close()
}

func TestOpenStateBackend_UnknownDriverIsError(t *testing.T) {
	_, err := openStateBackend(sqlflow.StateBackendConfig{Driver: "oracle", Connection: "whatever"})
	assert.ErrorIs(t, err, sqlflow.ErrUnknownDialect)
}
