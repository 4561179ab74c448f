package queue

import (
	"context"
	"strings"
	"sync"
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

// fakeExecutor runs a configurable function per task. The default result
// is SUCCESS immediately.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, task *models.Task) *ExecutionResult
}

func (f *fakeExecutor) Execute(ctx context.Context, task *models.Task) *ExecutionResult {
	f.mu.Lock()
	f.calls = append(f.calls, task.TaskID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, task)
	}
	return &ExecutionResult{Status: models.TaskSuccess, Summary: "done"}
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockUntilCancelled is an executor body that runs until the task
// context dies, the way a long pipeline would.
func blockUntilCancelled(ctx context.Context, _ *models.Task) *ExecutionResult {
	<-ctx.Done()
	return &ExecutionResult{Status: models.TaskCancelled, Err: ctx.Err()}
}

type poolEnv struct {
	pool  *WorkerPool
	exec  *fakeExecutor
	tasks *services.TaskService
	queue *bus.Bus
	redis *miniredis.Miniredis
	cfg   *config.WorkerConfig
}

func setupPool(t *testing.T) *poolEnv {
	t.Helper()
	db := util.SetupTestDatabase(t)

	mr := miniredis.RunT(t)
	b, err := bus.Connect(context.Background(),
		&config.RedisConfig{Addr: mr.Addr()}, config.DefaultBusConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	cfg := &config.WorkerConfig{
		Concurrency:       1,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 25 * time.Millisecond,
		ShutdownGrace:     2 * time.Second,
	}
	exec := &fakeExecutor{}
	tasks := services.NewTaskService(db)
	pool := NewWorkerPool("pod-test", tasks, b, progress.NewPublisher(b), cfg, exec)
	return &poolEnv{pool: pool, exec: exec, tasks: tasks, queue: b, redis: mr, cfg: cfg}
}

// enqueueTask creates a PENDING task and puts its delivery on the queue.
func enqueueTask(t *testing.T, env *poolEnv) *models.Task {
	t.Helper()
	ctx := context.Background()
	task, err := env.tasks.CreateTask(ctx, models.Preferences{RunMode: models.RunFullPipeline})
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, bus.TaskPayload{TaskID: task.TaskID, EnqueuedAt: time.Now().UTC()})
	require.NoError(t, err)
	return task
}

func waitForStatus(t *testing.T, env *poolEnv, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	var got *models.Task
	require.Eventually(t, func() bool {
		task, err := env.tasks.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 20*time.Millisecond, "task never reached %s", want)
	return got
}

func TestPoolProcessesTaskToSuccess(t *testing.T) {
	env := setupPool(t)
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	task := enqueueTask(t, env)
	final := waitForStatus(t, env, task.TaskID, models.TaskSuccess)

	require.NotNil(t, final.ResultSummary)
	assert.Equal(t, "done", *final.ResultSummary)
	require.NotNil(t, final.PodID)
	assert.Equal(t, "pod-test", *final.PodID)
	assert.False(t, final.IsActive)
	assert.Equal(t, 1, env.exec.callCount())

	// The delivery was acked: nothing left to reserve.
	require.Eventually(t, func() bool {
		depth, err := env.queue.Health(context.Background())
		return err == nil && depth == 0
	}, 2*time.Second, 20*time.Millisecond)

	events, err := env.queue.RecentEvents(context.Background(), task.TaskID, 50)
	require.NoError(t, err)
	var sawCompleted bool
	for _, e := range events {
		if strings.Contains(string(e), `"type":"task.completed"`) {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted, "task.completed event missing from ring")
}

func TestWorkerHonorsPubSubCancelSignal(t *testing.T) {
	env := setupPool(t)
	env.exec.fn = blockUntilCancelled
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	task := enqueueTask(t, env)
	waitForStatus(t, env, task.TaskID, models.TaskRunning)

	require.Eventually(t, func() bool {
		err := env.queue.Publish(context.Background(),
			bus.CancelChannel(task.TaskID), []byte(`{"reason":"operator"}`))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	final := waitForStatus(t, env, task.TaskID, models.TaskCancelled)
	assert.Nil(t, final.ErrorKind)
}

func TestWorkerHonorsDurableCancelFlag(t *testing.T) {
	env := setupPool(t)
	env.exec.fn = blockUntilCancelled
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	task := enqueueTask(t, env)
	waitForStatus(t, env, task.TaskID, models.TaskRunning)

	// Only the durable flag, no pub/sub signal: the heartbeat poll must
	// pick it up.
	require.NoError(t, env.tasks.RequestCancel(context.Background(), task.TaskID))
	waitForStatus(t, env, task.TaskID, models.TaskCancelled)
}

func TestPoolCancelLocal(t *testing.T) {
	env := setupPool(t)
	env.exec.fn = blockUntilCancelled
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	task := enqueueTask(t, env)
	waitForStatus(t, env, task.TaskID, models.TaskRunning)

	require.Eventually(t, func() bool {
		return env.pool.CancelLocal(task.TaskID)
	}, 2*time.Second, 20*time.Millisecond)
	waitForStatus(t, env, task.TaskID, models.TaskCancelled)

	assert.False(t, env.pool.CancelLocal("not-running-here"))
}

func TestWorkerAcksUnclaimableDelivery(t *testing.T) {
	env := setupPool(t)
	ctx := context.Background()

	// The task goes terminal before the worker sees the delivery, the way
	// a reaper reset would leave things.
	task, err := env.tasks.CreateTask(ctx, models.Preferences{RunMode: models.RunFullPipeline})
	require.NoError(t, err)
	_, err = env.tasks.MarkTerminal(ctx, task.TaskID, models.TerminalUpdate{Status: models.TaskRevoked})
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, bus.TaskPayload{TaskID: task.TaskID, EnqueuedAt: time.Now().UTC()})
	require.NoError(t, err)

	require.NoError(t, env.pool.Start(ctx))
	t.Cleanup(env.pool.Stop)

	require.Eventually(t, func() bool {
		depth, err := env.queue.Health(ctx)
		return err == nil && depth == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 0, env.exec.callCount())
	got, err := env.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRevoked, got.Status)
}

func TestWorkerSynthesizesResultWhenExecutorReturnsNil(t *testing.T) {
	env := setupPool(t)
	env.exec.fn = func(context.Context, *models.Task) *ExecutionResult { return nil }
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	task := enqueueTask(t, env)
	final := waitForStatus(t, env, task.TaskID, models.TaskFailed)

	require.NotNil(t, final.ErrorKind)
	assert.Equal(t, models.ErrorKindFatal, *final.ErrorKind)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "nil result")
}

func TestWorkerAcksWhenTerminalWriteLosesRace(t *testing.T) {
	env := setupPool(t)
	env.exec.fn = func(ctx context.Context, task *models.Task) *ExecutionResult {
		// Simulate a reaper finishing the task while it runs.
		_, err := env.tasks.MarkTerminal(context.Background(), task.TaskID,
			models.TerminalUpdate{Status: models.TaskRevoked})
		require.NoError(t, err)
		return &ExecutionResult{Status: models.TaskSuccess, Summary: "too late"}
	}
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	task := enqueueTask(t, env)

	// The reaper's write stands and the delivery still gets acked.
	final := waitForStatus(t, env, task.TaskID, models.TaskRevoked)
	assert.Nil(t, final.ResultSummary)
	require.Eventually(t, func() bool {
		depth, err := env.queue.Health(context.Background())
		return err == nil && depth == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPoolStopCancelsStragglersAfterGrace(t *testing.T) {
	env := setupPool(t)
	env.cfg.ShutdownGrace = 100 * time.Millisecond
	env.exec.fn = blockUntilCancelled
	require.NoError(t, env.pool.Start(context.Background()))

	task := enqueueTask(t, env)
	waitForStatus(t, env, task.TaskID, models.TaskRunning)

	done := make(chan struct{})
	go func() {
		env.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool.Stop never returned")
	}

	got, err := env.tasks.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, got.Status)
}

func TestPoolHealth(t *testing.T) {
	env := setupPool(t)
	require.NoError(t, env.pool.Start(context.Background()))
	t.Cleanup(env.pool.Stop)

	h := env.pool.Health()
	assert.True(t, h.IsHealthy)
	assert.True(t, h.QueueReachable)
	assert.Equal(t, "pod-test", h.PodID)
	assert.Equal(t, 1, h.TotalWorkers)
	require.Len(t, h.WorkerStats, 1)
	assert.Equal(t, "pod-test-worker-0", h.WorkerStats[0].ID)
}
