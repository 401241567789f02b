package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"sqlflow/engine"
)

type stubConnector struct{}

func (stubConnector) Materialize(ctx context.Context, eng engine.Engine, tableName string, params map[string]any) (int64, error) {
	return 0, nil
}

func TestRegistry_LookupIsCaseInsensitive(t *testing.T) {
	registry := Registry{"csv": stubConnector{}}

	c, err := registry.Lookup("CSV")
	assert.NoError(t, err)
	assert.NotNil(t, c)
}

func TestRegistry_LookupUnknownIsError(t *testing.T) {
	registry := Registry{"csv": stubConnector{}}

	_, err := registry.Lookup("s3")
	assert.ErrorIs(t, err, ErrConnectorNotImplemented)
}
