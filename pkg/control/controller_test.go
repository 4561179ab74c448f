package control

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
	"github.com/curioworks/curio/test/util"
)

type fakeCanceller struct {
	taskIDs []string
}

func (f *fakeCanceller) CancelLocal(taskID string) bool {
	f.taskIDs = append(f.taskIDs, taskID)
	return true
}

type controlEnv struct {
	controller *Controller
	tasks      *services.TaskService
	queue      *bus.Bus
	redis      *miniredis.Miniredis
	canceller  *fakeCanceller
}

func setupController(t *testing.T) *controlEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	mr := miniredis.RunT(t)
	b, err := bus.Connect(context.Background(),
		&config.RedisConfig{Addr: mr.Addr()}, config.DefaultBusConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	tasks := services.NewTaskService(db)
	canceller := &fakeCanceller{}
	return &controlEnv{
		controller: NewController(tasks, b, progress.NewPublisher(b), canceller),
		tasks:      tasks,
		queue:      b,
		redis:      mr,
		canceller:  canceller,
	}
}

func fullPipeline() models.Preferences {
	return models.Preferences{RunMode: models.RunFullPipeline}
}

func TestStartCreatesEnqueuesAndAnnounces(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	task, err := env.controller.Start(ctx, fullPipeline())
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	require.NotNil(t, task.WorkerTaskID)

	// The delivery is on the queue and names this task.
	d, err := env.queue.Reserve(ctx, "test-worker")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, task.TaskID, d.Payload.TaskID)
	assert.Equal(t, *task.WorkerTaskID, d.DeliveryID)

	// The initial status event is in the ring.
	events, err := env.queue.RecentEvents(ctx, task.TaskID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0]), `"type":"task.status"`)
}

func TestStartRejectsInvalidPreferences(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	_, err := env.controller.Start(ctx, models.Preferences{RunMode: "warp_speed"})
	assert.True(t, services.IsValidationError(err))

	// Validation failures leave no task behind.
	active, err := env.tasks.GetActiveTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartConflictsWithActiveTask(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	_, err := env.controller.Start(ctx, fullPipeline())
	require.NoError(t, err)

	_, err = env.controller.Start(ctx, fullPipeline())
	assert.ErrorIs(t, err, services.ErrTaskAlreadyActive)
}

func TestStartEnqueueFailureFailsTask(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	env.redis.Close()
	task, err := env.controller.Start(ctx, fullPipeline())
	require.Error(t, err)
	assert.Nil(t, task)

	// No orphan PENDING row: the task is terminally FAILED and the
	// active pointer is free again.
	active, err := env.tasks.GetActiveTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	list, err := env.tasks.ListTasks(ctx, models.TaskFilters{Status: models.TaskFailed})
	require.NoError(t, err)
	require.Len(t, list.Tasks, 1)
	failed := list.Tasks[0]
	require.NotNil(t, failed.ErrorKind)
	assert.Equal(t, models.ErrorKindFatal, *failed.ErrorKind)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "enqueue failed")
}

func TestStopFlagsSignalsAndPokesLocalPool(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	task, err := env.controller.Start(ctx, fullPipeline())
	require.NoError(t, err)

	sub := env.queue.Subscribe(ctx, bus.CancelChannel(task.TaskID))
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, env.controller.Stop(ctx, task.TaskID))

	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.False(t, got.Status.IsTerminal(), "Stop must not transition state itself")

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, bus.CancelChannel(task.TaskID), msg.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel signal never arrived")
	}

	assert.Equal(t, []string{task.TaskID}, env.canceller.taskIDs)
}

func TestStopUnknownTask(t *testing.T) {
	env := setupController(t)
	err := env.controller.Stop(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, services.ErrNotFound)
}
