package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox_retention"

	defaultOutboxRetentionDays = 30
	defaultPurgeBatch          = 500
	maxPurgeBatchesPerRun      = 20
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    outboxPurger
	RetentionDays int
	BatchSize     int
}

// NewOutboxRetentionJob purges relayed outbox rows older than RetentionDays. Rows that were
// never published are kept regardless of age.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:  params.Logger,
		db:    params.DB,
		repo:  params.Repository,
		keep:  params.RetentionDays,
		batch: params.BatchSize,
		now:   time.Now,
	}
	if job.keep <= 0 {
		job.keep = defaultOutboxRetentionDays
	}
	if job.batch <= 0 {
		job.batch = defaultPurgeBatch
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg  *logger.Logger
	db    txRunner
	repo  outboxPurger
	keep  int
	batch int
	now   func() time.Time
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

// Run deletes in short transactions so the relay is never blocked behind one large delete.
// Whatever is left after maxPurgeBatchesPerRun waits for the next cycle.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.keep)

	var total int64
	batches := 0
	for batches < maxPurgeBatchesPerRun {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.repo.DeletePublishedBefore(tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("purge outbox before %s (%d rows removed): %w", cutoff.Format(time.RFC3339), total, err)
		}
		batches++
		total += n
		if n < int64(j.batch) {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.keep,
		"batches":        batches,
		"rows_deleted":   total,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
