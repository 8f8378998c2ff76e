package redisqueue

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/robertor4/transcribe-sub002/queue"
)

// encodeTask serializes a task record as MessagePack.
func encodeTask(t *queue.Task) ([]byte, error) {
	data, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("queue/redis: encode task: %w", err)
	}
	return data, nil
}

// decodeTask deserializes a task record.
func decodeTask(data []byte) (*queue.Task, error) {
	var t queue.Task
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("queue/redis: decode task: %w", err)
	}
	return &t, nil
}
