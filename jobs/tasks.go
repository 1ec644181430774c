package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPurgeSessions prunes editing sessions idle past their window.
	TaskPurgeSessions = "collab:sessions:purge"
	// TaskPurgePresence prunes presence rows unseen past their window.
	TaskPurgePresence = "collab:presence:purge"
)

// NewPurgeSessionsTask constructs the editing-session purge task.
func NewPurgeSessionsTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeSessions, nil)
}

// NewPurgePresenceTask constructs the presence purge task.
func NewPurgePresenceTask() *asynq.Task {
	return asynq.NewTask(TaskPurgePresence, nil)
}
