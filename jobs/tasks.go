package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep is the task type for purging expired login
	// sessions from the audit table.
	TaskSessionSweep = "auth:session_sweep"
)

// SessionSweepPayload configures a sweep run. Sessions that expired
// more than RetainHours ago are removed; zero keeps nothing extra.
type SessionSweepPayload struct {
	RetainHours int `json:"retain_hours"`
}

// NewSessionSweepTask constructs an Asynq task.
func NewSessionSweepTask(payload SessionSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}
