package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/database"
	"github.com/curioworks/curio/test/util"
)

func TestCheckPoolReportsReachability(t *testing.T) {
	db := util.SetupTestDatabase(t)

	status, err := database.CheckPool(context.Background(), db)
	require.NoError(t, err)
	assert.True(t, status.Reachable)
	assert.GreaterOrEqual(t, status.PingMillis, int64(0))
	assert.Contains(t, status.Describe(), "connections busy")
}

func TestCheckPoolSurvivesClosedPool(t *testing.T) {
	db := util.SetupTestDatabase(t)
	require.NoError(t, db.Close())

	status, err := database.CheckPool(context.Background(), db)
	require.Error(t, err)
	require.NotNil(t, status)
	assert.False(t, status.Reachable)
}
