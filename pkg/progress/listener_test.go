package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/bus"
)

func TestListenerDispatchesTaskEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub, server := setupTestHub(t, &fakeRing{})
	l := NewListener(rdb, hub)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)

	conn := connectWS(t, server)
	readJSON(t, conn)
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "task:abc"})
	readJSON(t, conn)
	waitForSubscribers(t, hub, "task:abc", 1)

	err := rdb.Publish(context.Background(), bus.TaskChannel("abc"),
		`{"type":"task.status","task_id":"abc","sequence":0}`).Err()
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, "task.status", msg["type"])
	assert.Equal(t, "abc", msg["task_id"])
}

func TestListenerIgnoresCancelChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub, server := setupTestHub(t, &fakeRing{})
	l := NewListener(rdb, hub)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)

	conn := connectWS(t, server)
	readJSON(t, conn)
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "task:abc"})
	readJSON(t, conn)
	waitForSubscribers(t, hub, "task:abc", 1)

	// The cancel side-channel matches the pattern but is not fanned out.
	require.NoError(t, rdb.Publish(context.Background(),
		bus.CancelChannel("abc"), `cancel`).Err())
	require.NoError(t, rdb.Publish(context.Background(),
		bus.TaskChannel("abc"), `{"type":"log","sequence":0}`).Err())

	msg := readJSON(t, conn)
	assert.Equal(t, "log", msg["type"])

	// Give the listener a moment; nothing else should arrive.
	readCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err)
}
