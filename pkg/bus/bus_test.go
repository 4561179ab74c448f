package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/config"
)

func setupTestBus(t *testing.T) *Bus {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.DefaultBusConfig()
	cfg.EventRingSize = 5

	b := New(rdb, cfg)
	require.NoError(t, b.ensureGroup(context.Background()))
	return b
}

func TestEnqueueReserveAck(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, TaskPayload{TaskID: "task-1", EnqueuedAt: time.Now()})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	d, err := b.Reserve(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, id, d.DeliveryID)
	assert.Equal(t, "task-1", d.Payload.TaskID)

	// A second reserve sees nothing: the entry is leased.
	d2, err := b.Reserve(ctx, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, d2)

	require.NoError(t, b.Ack(ctx, d.DeliveryID))

	d3, err := b.Reserve(ctx, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, d3)
}

func TestReserveEmptyQueue(t *testing.T) {
	b := setupTestBus(t)

	d, err := b.Reserve(context.Background(), "worker-a")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestNackRequeue(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, TaskPayload{TaskID: "task-1"})
	require.NoError(t, err)

	d, err := b.Reserve(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, d)

	newID, err := b.Nack(ctx, d.DeliveryID, d.Payload, true)
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, d.DeliveryID, newID)

	d2, err := b.Reserve(ctx, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "task-1", d2.Payload.TaskID)
}

func TestNackWithoutRequeueDrops(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, TaskPayload{TaskID: "task-1"})
	require.NoError(t, err)

	d, err := b.Reserve(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, d)

	id, err := b.Nack(ctx, d.DeliveryID, d.Payload, false)
	require.NoError(t, err)
	assert.Empty(t, id)

	d2, err := b.Reserve(ctx, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, d2)
}

func TestLeaseLapsed(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, TaskPayload{TaskID: "task-1"})
	require.NoError(t, err)

	d, err := b.Reserve(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, d)

	// Freshly reserved: lease is live.
	lapsed, err := b.LeaseLapsed(ctx, d.DeliveryID)
	require.NoError(t, err)
	assert.False(t, lapsed)

	// Revoked entries have no pending record: lease counts as lapsed.
	require.NoError(t, b.RevokeLease(ctx, d.DeliveryID))
	lapsed, err = b.LeaseLapsed(ctx, d.DeliveryID)
	require.NoError(t, err)
	assert.True(t, lapsed)
}

func TestRingBoundedAndOrdered(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		payload, _ := json.Marshal(map[string]int{"n": i})
		require.NoError(t, b.AppendRing(ctx, "task-1", payload))
	}

	events, err := b.RecentEvents(ctx, "task-1", 0)
	require.NoError(t, err)
	// Ring capacity is 5: only the newest 5 survive, oldest first.
	require.Len(t, events, 5)

	var first, last map[string]int
	require.NoError(t, json.Unmarshal(events[0], &first))
	require.NoError(t, json.Unmarshal(events[4], &last))
	assert.Equal(t, 3, first["n"])
	assert.Equal(t, 7, last["n"])

	require.NoError(t, b.ClearRing(ctx, "task-1"))
	events, err = b.RecentEvents(ctx, "task-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSequencesPerKind(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		got, err := b.NextSequence(ctx, "task-1", "phase.update")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Independent counter per kind and per task.
	got, err := b.NextSequence(ctx, "task-1", "log")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	got, err = b.NextSequence(ctx, "task-2", "phase.update")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	require.NoError(t, b.ClearSequences(ctx, "task-1"))
	got, err = b.NextSequence(ctx, "task-1", "phase.update")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestPublishSubscribe(t *testing.T) {
	b := setupTestBus(t)
	ctx := context.Background()

	sub := b.Subscribe(ctx, TaskChannelPattern)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be established before publishing.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TaskChannel("task-1"), []byte(`{"kind":"log"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, TaskChannel("task-1"), msg.Channel)
		assert.JSONEq(t, `{"kind":"log"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}
