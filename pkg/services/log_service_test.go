package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/test/util"
)

func TestLogSequenceIsDense(t *testing.T) {
	db := util.SetupTestDatabase(t)
	tasks := NewTaskService(db)
	logs := NewLogService(db)
	ctx := context.Background()

	task, err := tasks.CreateTask(ctx, models.Preferences{RunMode: models.RunFullPipeline})
	require.NoError(t, err)

	for want := int64(0); want < 5; want++ {
		seq, err := logs.Append(ctx, task.TaskID, models.LogInfo, "worker", "line", nil)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}
}

func TestLogSequenceDenseUnderConcurrency(t *testing.T) {
	db := util.SetupTestDatabase(t)
	tasks := NewTaskService(db)
	logs := NewLogService(db)
	ctx := context.Background()

	task, err := tasks.CreateTask(ctx, models.Preferences{RunMode: models.RunFullPipeline})
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := logs.Append(ctx, task.TaskID, models.LogInfo, "worker", "concurrent line", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	page, err := logs.List(ctx, task.TaskID, 0, 100)
	require.NoError(t, err)
	require.Len(t, page.Entries, n)
	for i, e := range page.Entries {
		assert.Equal(t, int64(i), e.Sequence)
	}
	assert.Equal(t, int64(n), page.NextCursor)
}

func TestLogListCursorPaging(t *testing.T) {
	db := util.SetupTestDatabase(t)
	tasks := NewTaskService(db)
	logs := NewLogService(db)
	ctx := context.Background()

	task, err := tasks.CreateTask(ctx, models.Preferences{RunMode: models.RunFullPipeline})
	require.NoError(t, err)

	phase := "fetch"
	for i := 0; i < 7; i++ {
		_, err := logs.Append(ctx, task.TaskID, models.LogDebug, "fetch", "line", &phase)
		require.NoError(t, err)
	}

	first, err := logs.List(ctx, task.TaskID, 0, 3)
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	assert.Equal(t, int64(3), first.NextCursor)

	second, err := logs.List(ctx, task.TaskID, first.NextCursor, 10)
	require.NoError(t, err)
	require.Len(t, second.Entries, 4)
	assert.Equal(t, int64(3), second.Entries[0].Sequence)
	assert.Equal(t, int64(7), second.NextCursor)

	// Polling past the end returns an empty page and an unchanged cursor.
	tail, err := logs.List(ctx, task.TaskID, second.NextCursor, 10)
	require.NoError(t, err)
	assert.Empty(t, tail.Entries)
	assert.Equal(t, second.NextCursor, tail.NextCursor)
}

func TestLogAppendUnknownTask(t *testing.T) {
	db := util.SetupTestDatabase(t)
	logs := NewLogService(db)

	_, err := logs.Append(context.Background(),
		"00000000-0000-0000-0000-000000000000", models.LogInfo, "worker", "orphan line", nil)
	assert.Error(t, err)
}
