package redisqueue

import (
	"github.com/robertor4/transcribe-sub002/id"
)

const keyPrefix = "transcribe:"

func taskKey(taskID string) string { return keyPrefix + "task:" + taskID }

func trTasksKey(trID id.TranscriptionID) string {
	return keyPrefix + "tr_tasks:" + trID.String()
}

const (
	waitingKey = keyPrefix + "tasks:waiting"
	delayedKey = keyPrefix + "tasks:delayed"
	activeKey  = keyPrefix + "tasks:active"
)
