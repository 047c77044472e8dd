package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backlogPurger pretends to hold remaining expired rows.
type backlogPurger struct {
	remaining int64
	cutoffs   []time.Time
	limits    []int
	err       error
}

func (b *backlogPurger) PurgeBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	b.cutoffs = append(b.cutoffs, cutoff)
	b.limits = append(b.limits, limit)
	if b.err != nil {
		return 0, b.err
	}
	n := min(b.remaining, int64(limit))
	b.remaining -= n
	return n, nil
}

func newRetentionJob(t *testing.T, purger Purger, retention time.Duration, batch int) *retentionJob {
	t.Helper()
	job, err := NewRetentionJob(RetentionJobParams{
		Logger:    quietLogger(),
		Name:      "outbox-retention",
		Purger:    purger,
		Retention: retention,
		BatchSize: batch,
	})
	require.NoError(t, err)
	return job.(*retentionJob)
}

func TestRetentionJobDrainsBacklogInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	purger := &backlogPurger{remaining: 25}
	job := newRetentionJob(t, purger, 72*time.Hour, 10)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int64(0), purger.remaining)
	assert.Equal(t, []int{10, 10, 10}, purger.limits)
	for _, cutoff := range purger.cutoffs {
		assert.Equal(t, now.Add(-72*time.Hour), cutoff, "cutoff is fixed for the whole run")
	}
}

func TestRetentionJobStopsOnExactMultipleAfterEmptyBatch(t *testing.T) {
	purger := &backlogPurger{remaining: 20}
	job := newRetentionJob(t, purger, 0, 10)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, purger.limits, 3)
}

func TestRetentionJobDefaults(t *testing.T) {
	job := newRetentionJob(t, &backlogPurger{}, 0, 0)
	assert.Equal(t, defaultRetention, job.retention)
	assert.Equal(t, defaultRetentionBatch, job.batch)
	assert.Equal(t, "outbox-retention", job.Name())
}

func TestRetentionJobCapsBatchesPerRun(t *testing.T) {
	purger := &backlogPurger{remaining: 1 << 40}
	job := newRetentionJob(t, purger, 0, 1)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, purger.limits, maxRetentionBatches)
}

func TestRetentionJobPropagatesErrors(t *testing.T) {
	job := newRetentionJob(t, &backlogPurger{err: errors.New("statement timeout")}, 0, 10)
	assert.ErrorContains(t, job.Run(context.Background()), "statement timeout")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job = newRetentionJob(t, &backlogPurger{remaining: 5}, 0, 10)
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}

func TestRetentionJobValidatesParams(t *testing.T) {
	_, err := NewRetentionJob(RetentionJobParams{Logger: quietLogger(), Purger: &backlogPurger{}})
	assert.Error(t, err)
	_, err = NewRetentionJob(RetentionJobParams{Logger: quietLogger(), Name: "notification-cleanup"})
	assert.Error(t, err)
	_, err = NewRetentionJob(RetentionJobParams{Name: "notification-cleanup", Purger: &backlogPurger{}})
	assert.Error(t, err)
}

func TestPurgerFuncAdapts(t *testing.T) {
	var gotLimit int
	p := PurgerFunc(func(_ context.Context, _ time.Time, limit int) (int64, error) {
		gotLimit = limit
		return 0, nil
	})
	_, err := p.PurgeBefore(context.Background(), time.Now(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, gotLimit)
}
