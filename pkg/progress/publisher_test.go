package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/models"
)

func setupTestPublisher(t *testing.T) (*Publisher, *bus.Bus) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.DefaultBusConfig()
	b := bus.New(rdb, cfg)
	return NewPublisher(b), b
}

func ringPayloads(t *testing.T, b *bus.Bus, taskID string) []map[string]any {
	t.Helper()
	raw, err := b.RecentEvents(context.Background(), taskID, 0)
	require.NoError(t, err)
	out := make([]map[string]any, len(raw))
	for i, e := range raw {
		require.NoError(t, json.Unmarshal(e, &out[i]))
	}
	return out
}

func TestPublishTaskStatusSequencesAndRings(t *testing.T) {
	p, b := setupTestPublisher(t)
	ctx := context.Background()

	now := time.Now()
	task := &models.Task{
		TaskID:    "task-1",
		Status:    models.TaskRunning,
		StartedAt: &now,
		UpdatedAt: now,
	}

	require.NoError(t, p.PublishTaskStatus(ctx, task))
	require.NoError(t, p.PublishTaskStatus(ctx, task))

	events := ringPayloads(t, b, "task-1")
	require.Len(t, events, 2)
	assert.Equal(t, KindTaskStatus, events[0]["type"])
	assert.Equal(t, float64(0), events[0]["sequence"])
	assert.Equal(t, float64(1), events[1]["sequence"])
	assert.Equal(t, true, events[0]["is_running"])
	assert.NotEmpty(t, events[0]["timestamp"])
	assert.NotEmpty(t, events[0]["started_at"])
}

func TestSequencesIndependentPerKind(t *testing.T) {
	p, b := setupTestPublisher(t)
	ctx := context.Background()

	require.NoError(t, p.PublishPhaseUpdate(ctx, "task-1", PhaseUpdatePayload{
		PhaseID: "fetch", Status: models.PhaseInProgress, ProcessedCount: 1, TotalCount: 4,
	}))
	require.NoError(t, p.PublishPhaseComplete(ctx, "task-1", PhaseCompletePayload{
		PhaseID: "fetch", ProcessedCount: 4, TotalCount: 4, DurationSeconds: 1.5,
	}))
	require.NoError(t, p.PublishPhaseUpdate(ctx, "task-1", PhaseUpdatePayload{
		PhaseID: "cache", Status: models.PhaseActive,
	}))

	events := ringPayloads(t, b, "task-1")
	require.Len(t, events, 3)
	// phase.update and phase.complete count independently.
	assert.Equal(t, KindPhaseUpdate, events[0]["type"])
	assert.Equal(t, float64(0), events[0]["sequence"])
	assert.Equal(t, KindPhaseComplete, events[1]["type"])
	assert.Equal(t, float64(0), events[1]["sequence"])
	assert.Equal(t, KindPhaseUpdate, events[2]["type"])
	assert.Equal(t, float64(1), events[2]["sequence"])
}

func TestPublishLogReusesDurableSequence(t *testing.T) {
	p, b := setupTestPublisher(t)
	ctx := context.Background()

	phase := "fetch"
	entry := &models.LogEntry{
		TaskID:    "task-1",
		Sequence:  41,
		Timestamp: time.Now(),
		Level:     models.LogInfo,
		Component: "fetch",
		PhaseID:   &phase,
		Message:   "fetched 12 bookmarks",
	}
	require.NoError(t, p.PublishLog(ctx, entry))

	events := ringPayloads(t, b, "task-1")
	require.Len(t, events, 1)
	assert.Equal(t, KindLog, events[0]["type"])
	assert.Equal(t, float64(41), events[0]["sequence"])
	assert.Equal(t, "fetch", events[0]["phase_id"])

	// No counter was consumed for the log kind.
	seq, err := b.NextSequence(ctx, "task-1", KindLog)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestPublishReachesSubscriber(t *testing.T) {
	p, b := setupTestPublisher(t)
	ctx := context.Background()

	sub := b.Subscribe(ctx, bus.TaskChannelPattern)
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.PublishTaskError(ctx, "task-1", models.ErrorKindFatal, "boom"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, bus.TaskChannel("task-1"), msg.Channel)
		var payload TaskErrorPayload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, KindTaskError, payload.Type)
		assert.Equal(t, models.ErrorKindFatal, payload.ErrorKind)
		assert.Equal(t, "boom", payload.ErrorMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishTaskCompletedCarriesDuration(t *testing.T) {
	p, b := setupTestPublisher(t)
	ctx := context.Background()

	summary := "47 items processed"
	duration := int64(91500)
	task := &models.Task{
		TaskID:        "task-1",
		Status:        models.TaskSuccess,
		ResultSummary: &summary,
		DurationMS:    &duration,
	}
	require.NoError(t, p.PublishTaskCompleted(ctx, task))

	events := ringPayloads(t, b, "task-1")
	require.Len(t, events, 1)
	assert.Equal(t, KindTaskCompleted, events[0]["type"])
	assert.Equal(t, string(models.TaskSuccess), events[0]["status"])
	assert.Equal(t, 91.5, events[0]["duration_seconds"])
	assert.Equal(t, summary, events[0]["result_summary"])
}
