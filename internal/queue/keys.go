package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// Lifecycle stages. Each job type owns one sorted set per stage; a job id lives
// in exactly one of them at a time.
const (
	stagePending    = "pending"
	stageProcessing = "processing"
	stageCompleted  = "completed"
	stageFailed     = "failed"
)

var stages = []string{stagePending, stageProcessing, stageCompleted, stageFailed}

func jobKey(id uuid.UUID) string {
	return fmt.Sprintf("job:%s", id)
}

func setKey(jobType, stage string) string {
	return fmt.Sprintf("queue:%s:%s", jobType, stage)
}
