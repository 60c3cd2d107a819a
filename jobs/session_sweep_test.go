package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	_ "github.com/campusfleet/campusfleet/testing"
)

type stubPurger struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (s *stubPurger) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	s.cutoff = before
	return s.removed, s.err
}

func TestSessionSweepPurgesWithRetention(t *testing.T) {
	purger := &stubPurger{removed: 3}
	job := NewSessionSweepJob(purger, slog.New(slog.NewTextHandler(io.Discard, nil)))

	task, err := NewSessionSweepTask(SessionSweepPayload{RetainHours: 24})
	require.NoError(t, err)
	require.Equal(t, TaskSessionSweep, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), purger.cutoff, time.Minute)
}

func TestSessionSweepSkipsRetryOnBadPayload(t *testing.T) {
	purger := &stubPurger{}
	job := NewSessionSweepJob(purger, nil)

	bad := asynq.NewTask(TaskSessionSweep, []byte("{not json"))
	err := job.Handle(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.True(t, purger.cutoff.IsZero())
}

func TestSessionSweepPropagatesStoreErrors(t *testing.T) {
	purger := &stubPurger{err: errors.New("pg down")}
	job := NewSessionSweepJob(purger, nil)

	task, err := NewSessionSweepTask(SessionSweepPayload{RetainHours: 1})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}
