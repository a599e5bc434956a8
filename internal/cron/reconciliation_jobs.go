package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

const (
	defaultStaleRunningTTL = 30 * time.Minute
	defaultPendingSaleTTL  = 24 * time.Hour
	defaultSweepLimit      = 200

	// sweepActor tags audit entries written by the housekeeping jobs.
	sweepActor = "cron:pending-sale-sweep"
)

type staleLogCloser interface {
	FailStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error)
}

type StaleReconciliationJobParams struct {
	Logger    *logger.Logger
	Logs      staleLogCloser
	OlderThan time.Duration
}

// NewStaleReconciliationJob closes reconciliation logs left running by a crashed batch.
func NewStaleReconciliationJob(params StaleReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Logs == nil {
		return nil, fmt.Errorf("reconciliation service required")
	}
	olderThan := params.OlderThan
	if olderThan <= 0 {
		olderThan = defaultStaleRunningTTL
	}
	return &staleReconciliationJob{logg: params.Logger, logs: params.Logs, olderThan: olderThan}, nil
}

type staleReconciliationJob struct {
	logg      *logger.Logger
	logs      staleLogCloser
	olderThan time.Duration
}

func (j *staleReconciliationJob) Name() string { return "stale-reconciliation" }

func (j *staleReconciliationJob) Run(ctx context.Context) error {
	count, err := j.logs.FailStaleRunning(ctx, j.olderThan)
	if err != nil {
		return fmt.Errorf("fail stale reconciliation logs: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"older_than": j.olderThan.String(),
		"closed":     count,
	}), "stale reconciliation logs closed")
	return nil
}

type pendingSweeper interface {
	CancelStalePending(ctx context.Context, cutoff time.Time, limit int, actor audit.Actor) (sales.SweepResult, error)
}

type PendingSaleSweepJobParams struct {
	Logger    *logger.Logger
	Sales     pendingSweeper
	OlderThan time.Duration
	Limit     int
}

// NewPendingSaleSweepJob cancels sales that never left pending, releasing
// anything they held on the ledger.
func NewPendingSaleSweepJob(params PendingSaleSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sales == nil {
		return nil, fmt.Errorf("sales service required")
	}
	olderThan := params.OlderThan
	if olderThan <= 0 {
		olderThan = defaultPendingSaleTTL
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &pendingSaleSweepJob{
		logg:      params.Logger,
		sales:     params.Sales,
		olderThan: olderThan,
		limit:     limit,
		now:       time.Now,
	}, nil
}

type pendingSaleSweepJob struct {
	logg      *logger.Logger
	sales     pendingSweeper
	olderThan time.Duration
	limit     int
	now       func() time.Time
}

func (j *pendingSaleSweepJob) Name() string { return "pending-sale-sweep" }

func (j *pendingSaleSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.olderThan)
	result, err := j.sales.CancelStalePending(ctx, cutoff, j.limit, audit.Actor{RequestID: sweepActor})
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   result.Scanned,
		"cancelled": result.Cancelled,
	})
	if err != nil {
		return fmt.Errorf("sweep pending sales: %w", err)
	}
	j.logg.Info(logCtx, "pending sale sweep complete")
	return nil
}
