package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

const (
	outboxRetentionDays = 30
	dlqRetentionDays    = 90
	outboxDeleteBatch   = 500
	outboxMaxBatches    = 100
)

type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	Repository   outboxRetentionRepo
	DLQ          dlqRetentionRepo
	Retention    int
	DLQRetention int
	BatchSize    int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type dlqRetentionRepo interface {
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// deleteBatchFunc removes at most limit rows older than cutoff.
type deleteBatchFunc func(ctx context.Context, cutoff time.Time, limit int) (int64, error)

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		repo:         params.Repository,
		dlq:          params.DLQ,
		retention:    positiveOr(params.Retention, outboxRetentionDays),
		dlqRetention: positiveOr(params.DLQRetention, dlqRetentionDays),
		batch:        positiveOr(params.BatchSize, outboxDeleteBatch),
		now:          time.Now,
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	repo         outboxRetentionRepo
	dlq          dlqRetentionRepo
	retention    int
	dlqRetention int
	batch        int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run trims published outbox rows and, when a DLQ repository is wired, parked
// entries past their own, longer window. Both passes run even if one fails.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-days(j.retention))
	published, outboxErr := j.drain(ctx, j.repo.DeletePublishedBefore, outboxCutoff)
	if outboxErr != nil {
		outboxErr = fmt.Errorf("outbox retention: %w", outboxErr)
	}

	fields := map[string]any{
		"cutoff":         outboxCutoff,
		"retention_days": j.retention,
		"rows_deleted":   published,
	}
	var dlqErr error
	if j.dlq != nil {
		dlqCutoff := now.Add(-days(j.dlqRetention))
		var parked int64
		parked, dlqErr = j.drain(ctx, j.dlq.PurgeBefore, dlqCutoff)
		if dlqErr != nil {
			dlqErr = fmt.Errorf("dlq retention: %w", dlqErr)
		}
		fields["dlq_cutoff"] = dlqCutoff
		fields["dlq_rows_deleted"] = parked
	}

	err := multierr.Combine(outboxErr, dlqErr)
	logCtx := j.logg.WithFields(ctx, fields)
	if err != nil {
		j.logg.Warn(logCtx, "outbox retention cleanup incomplete")
		return err
	}
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}

// drain calls del until a short batch comes back or the batch cap is hit.
func (j *outboxRetentionJob) drain(ctx context.Context, del deleteBatchFunc, cutoff time.Time) (int64, error) {
	var total int64
	for i := 0; i < outboxMaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := del(ctx, cutoff, j.batch)
		total += rows
		if err != nil {
			return total, err
		}
		if rows < int64(j.batch) {
			break
		}
	}
	return total, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
