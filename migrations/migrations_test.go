package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	pg, err := Postgres()
	require.NoError(t, err)
	require.Len(t, pg, 2)
	assert.Contains(t, pg[0], "CREATE TABLE IF NOT EXISTS model_objects")
	assert.NotContains(t, pg[0], "--")

	ch, err := ClickHouse()
	require.NoError(t, err)
	require.Len(t, ch, 1)
	assert.Contains(t, ch[0], "change_detections")
}
