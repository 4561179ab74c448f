// Package bus provides the Redis-backed message bus: the durable work
// queue (a stream with a consumer group), ephemeral pub/sub channels,
// per-task bounded event rings, and per-(task, kind) sequence counters.
//
// Queue state lives in Redis and survives orchestrator restarts (subject
// to Redis persistence). Pub/sub and rings are advisory: consumers must
// tolerate loss and rely on the task store and log sequences for
// authoritative reconstruction.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curioworks/curio/pkg/config"
)

// Delivery is one reserved work-queue entry. The DeliveryID is the Redis
// stream entry ID; it doubles as the task's worker_task_id.
type Delivery struct {
	DeliveryID string
	Payload    TaskPayload
}

// TaskPayload is the JSON body of a work-queue entry.
type TaskPayload struct {
	TaskID     string    `json:"task_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Bus wraps a single Redis client shared by queue, pub/sub, ring, and
// sequence operations.
type Bus struct {
	rdb    *redis.Client
	config *config.BusConfig
}

// New creates a Bus over an existing Redis client.
func New(rdb *redis.Client, cfg *config.BusConfig) *Bus {
	return &Bus{rdb: rdb, config: cfg}
}

// Connect opens a Redis client, verifies connectivity, and ensures the
// work-queue consumer group exists.
func Connect(ctx context.Context, redisCfg *config.RedisConfig, busCfg *config.BusConfig) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	b := &Bus{rdb: rdb, config: busCfg}
	if err := b.ensureGroup(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the underlying Redis client.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Client returns the underlying Redis client (used by the progress
// listener, which needs its own PSubscribe).
func (b *Bus) Client() *redis.Client {
	return b.rdb
}

// Health pings Redis and reports queue depth.
func (b *Bus) Health(ctx context.Context) (int64, error) {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	depth, err := b.rdb.XLen(ctx, b.config.QueueName).Result()
	if err != nil {
		return 0, err
	}
	return depth, nil
}

// ensureGroup creates the consumer group if it does not exist yet.
// BUSYGROUP from a concurrent or previous creation is not an error.
func (b *Bus) ensureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.config.QueueName, b.config.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	var redisErr redis.Error
	return errors.As(err, &redisErr) && len(redisErr.Error()) >= 9 && redisErr.Error()[:9] == "BUSYGROUP"
}

// --- Durable work queue ---

// Enqueue appends a task payload to the work queue stream and returns the
// delivery ID once Redis has accepted it.
func (b *Bus) Enqueue(ctx context.Context, payload TaskPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.config.QueueName,
		Values: map[string]any{"payload": body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return id, nil
}

// Reserve takes an exclusive lease on the next queue entry for the given
// consumer. Returns nil when the queue is empty.
//
// Workers only ever read new entries (">"). Pending entries of dead
// consumers are never auto-claimed: recovery after worker loss is the
// reaper's job, and re-running a task is an explicit operator action.
func (b *Bus) Reserve(ctx context.Context, consumer string) (*Delivery, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.config.ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{b.config.QueueName, ">"},
		Count:    1,
		Block:    time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reserve from queue: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}

	msg := res[0].Messages[0]
	raw, _ := msg.Values["payload"].(string)
	var payload TaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Poison entry: drop it rather than wedge the queue.
		_ = b.Ack(ctx, msg.ID)
		return nil, fmt.Errorf("failed to decode queue payload %s: %w", msg.ID, err)
	}
	return &Delivery{DeliveryID: msg.ID, Payload: payload}, nil
}

// Ack acknowledges and removes a delivery.
func (b *Bus) Ack(ctx context.Context, deliveryID string) error {
	if err := b.rdb.XAck(ctx, b.config.QueueName, b.config.ConsumerGroup, deliveryID).Err(); err != nil {
		return fmt.Errorf("failed to ack delivery %s: %w", deliveryID, err)
	}
	if err := b.rdb.XDel(ctx, b.config.QueueName, deliveryID).Err(); err != nil {
		return fmt.Errorf("failed to delete delivery %s: %w", deliveryID, err)
	}
	return nil
}

// Nack releases a delivery. With requeue the payload is re-appended as a
// fresh entry (new delivery ID); without, it behaves like Ack.
func (b *Bus) Nack(ctx context.Context, deliveryID string, payload TaskPayload, requeue bool) (string, error) {
	if err := b.Ack(ctx, deliveryID); err != nil {
		return "", err
	}
	if !requeue {
		return "", nil
	}
	return b.Enqueue(ctx, payload)
}

// ExtendLease resets the idle clock of a delivery by re-claiming it for
// the same consumer. Worker heartbeats call this so a live worker's lease
// never lapses.
func (b *Bus) ExtendLease(ctx context.Context, deliveryID, consumer string) error {
	err := b.rdb.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   b.config.QueueName,
		Group:    b.config.ConsumerGroup,
		Consumer: consumer,
		MinIdle:  0,
		Messages: []string{deliveryID},
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to extend lease on %s: %w", deliveryID, err)
	}
	return nil
}

// LeaseLapsed reports whether a delivery's lease has expired: either no
// pending entry exists anymore (the entry was lost or acked without a
// terminal task write) or its idle time exceeds the visibility timeout.
func (b *Bus) LeaseLapsed(ctx context.Context, deliveryID string) (bool, error) {
	entries, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.config.QueueName,
		Group:  b.config.ConsumerGroup,
		Start:  deliveryID,
		End:    deliveryID,
		Count:  1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("failed to inspect pending entry %s: %w", deliveryID, err)
	}
	if len(entries) == 0 {
		return true, nil
	}
	return entries[0].Idle >= b.config.VisibilityTimeout, nil
}

// RevokeLease forcibly acknowledges and deletes a delivery regardless of
// its owner. Used by the reaper when failing a task and by the
// comprehensive reset.
func (b *Bus) RevokeLease(ctx context.Context, deliveryID string) error {
	return b.Ack(ctx, deliveryID)
}

// --- Ephemeral pub/sub ---

// Publish broadcasts a payload on a channel. Best-effort: delivery is
// ordered per publisher but subscribers may miss messages.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on the given channel patterns.
// The caller owns the returned PubSub and must close it.
func (b *Bus) Subscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return b.rdb.PSubscribe(ctx, patterns...)
}

// --- Per-task event rings and sequences ---

// AppendRing pushes an event envelope onto the task's bounded ring.
// The ring keeps the most recent EventRingSize events; older ones fall
// off. Clients needing completeness use the logs API.
func (b *Bus) AppendRing(ctx context.Context, taskID string, payload []byte) error {
	key := ringKey(taskID)
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(b.config.EventRingSize-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to ring %s: %w", key, err)
	}
	return nil
}

// RecentEvents returns up to limit ring events for a task, oldest first.
func (b *Bus) RecentEvents(ctx context.Context, taskID string, limit int) ([][]byte, error) {
	if limit <= 0 || limit > b.config.EventRingSize {
		limit = b.config.EventRingSize
	}
	raw, err := b.rdb.LRange(ctx, ringKey(taskID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ring for task %s: %w", taskID, err)
	}
	// LPUSH stores newest first; reverse to chronological order.
	out := make([][]byte, len(raw))
	for i, s := range raw {
		out[len(raw)-1-i] = []byte(s)
	}
	return out, nil
}

// RingDepth returns the current number of events in a task's ring.
func (b *Bus) RingDepth(ctx context.Context, taskID string) (int64, error) {
	return b.rdb.LLen(ctx, ringKey(taskID)).Result()
}

// ClearRing removes a task's event ring.
func (b *Bus) ClearRing(ctx context.Context, taskID string) error {
	if err := b.rdb.Del(ctx, ringKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to clear ring for task %s: %w", taskID, err)
	}
	return nil
}

// NextSequence allocates the next monotonic sequence number for a
// (task, event kind) pair, starting at 0.
func (b *Bus) NextSequence(ctx context.Context, taskID, kind string) (int64, error) {
	n, err := b.rdb.Incr(ctx, seqKey(taskID, kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence for %s/%s: %w", taskID, kind, err)
	}
	return n - 1, nil
}

// ClearSequences removes all sequence counters for a task.
func (b *Bus) ClearSequences(ctx context.Context, taskID string) error {
	var cursor uint64
	pattern := seqKey(taskID, "*")
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan sequence keys for task %s: %w", taskID, err)
		}
		if len(keys) > 0 {
			if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete sequence keys for task %s: %w", taskID, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
