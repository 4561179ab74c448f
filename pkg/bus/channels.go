package bus

// TaskChannelPattern matches every task's event channel. The progress
// listener subscribes to it once at startup.
const TaskChannelPattern = "task:*"

// TaskChannel returns the pub/sub channel for a task's progress events.
// Format: "task:{task_id}".
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// CancelChannel returns the pub/sub channel for a task's ephemeral cancel
// signal. The durable cancel flag on the task record is authoritative;
// this channel only shortens the reaction time.
func CancelChannel(taskID string) string {
	return TaskChannel(taskID) + ":cancel"
}

func ringKey(taskID string) string {
	return "curio:ring:" + taskID
}

func seqKey(taskID, kind string) string {
	return "curio:seq:" + taskID + ":" + kind
}
