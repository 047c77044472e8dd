package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const (
	defaultRetention      = 30 * 24 * time.Hour
	defaultRetentionBatch = 1000
	// caps one run so a huge backlog drains over several cycles
	maxRetentionBatches = 200
)

// Purger deletes at most limit expired rows older than cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type PurgerFunc func(ctx context.Context, cutoff time.Time, limit int) (int64, error)

func (f PurgerFunc) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return f(ctx, cutoff, limit)
}

type RetentionJobParams struct {
	Logger    *logger.Logger
	Name      string
	Purger    Purger
	Retention time.Duration
	BatchSize int
}

// NewRetentionJob deletes housekeeping rows in batches. Settlement records are
// never purged; only read notifications and published outbox rows are.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	name := strings.TrimSpace(params.Name)
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case name == "":
		return nil, fmt.Errorf("retention job name required")
	case params.Purger == nil:
		return nil, fmt.Errorf("%s: purger required", name)
	}
	job := &retentionJob{
		name:      name,
		logg:      params.Logger,
		purger:    params.Purger,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultRetention
	}
	if job.batch <= 0 {
		job.batch = defaultRetentionBatch
	}
	return job, nil
}

type retentionJob struct {
	name      string
	logg      *logger.Logger
	purger    Purger
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for batches < maxRetentionBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.purger.PurgeBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("purge after %d rows: %w", total, err)
		}
		total += n
		batches++
		if n < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": total,
		"batches":      batches,
	}), "retention sweep complete")
	return nil
}
