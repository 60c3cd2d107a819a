package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// SessionPurger removes expired session audit records.
type SessionPurger interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// SessionSweepJob purges expired login sessions. The Redis-side
// session entries expire on their own TTL; only the postgres audit
// rows need sweeping.
type SessionSweepJob struct {
	purger SessionPurger
	logger *slog.Logger
}

// NewSessionSweepJob constructs a SessionSweepJob.
func NewSessionSweepJob(purger SessionPurger, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{purger: purger, logger: logger}
}

// Handle processes TaskSessionSweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	cutoff := time.Now().Add(-time.Duration(payload.RetainHours) * time.Hour)
	removed, err := j.purger.DeleteExpiredSessions(ctx, cutoff)
	if err != nil {
		return err
	}
	if j.logger != nil {
		j.logger.Info("session sweep finished",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
