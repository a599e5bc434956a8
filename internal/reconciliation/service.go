package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SaleProcessor is the slice of the sales state machine a batch drives.
type SaleProcessor interface {
	Create(ctx context.Context, input sales.CreateInput) (*sales.CreateResult, error)
	Confirm(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error)
}

// Service replays terminal sale batches against the ledger.
type Service interface {
	Reconcile(ctx context.Context, req Request) (*Result, error)
	GetLog(ctx context.Context, id uuid.UUID) (*models.ReconciliationLog, error)
	ListLogs(ctx context.Context, terminalID uuid.UUID, limit int) ([]models.ReconciliationLog, error)
	FailStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Request is one batch submitted by a terminal.
type Request struct {
	TerminalID   uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	Transactions []sales.CreateInput
	Actor        audit.Actor
}

// ItemOutcome is the result of processing one submitted event.
type ItemOutcome struct {
	EventID       string           `json:"event_id"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty"`
	Status        enums.SaleStatus `json:"status,omitempty"`
	Created       bool             `json:"created"`
	ErrorCode     pkgerrors.Code   `json:"error_code,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Result summarizes a finished batch.
type Result struct {
	LogID     uuid.UUID                  `json:"reconciliation_id"`
	Status    enums.ReconciliationStatus `json:"status"`
	Processed int                        `json:"processed_count"`
	Succeeded int                        `json:"success_count"`
	Failed    int                        `json:"failed_count"`
	Items     []ItemOutcome              `json:"items"`
}

type ServiceParams struct {
	Repo         Repository
	Sales        SaleProcessor
	Metrics      *metrics.ReconciliationMetrics
	Logger       *logger.Logger
	MaxBatchSize int
	Now          func() time.Time
}

type service struct {
	repo     Repository
	sales    SaleProcessor
	metrics  *metrics.ReconciliationMetrics
	logg     *logger.Logger
	maxBatch int
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if params.Sales == nil {
		return nil, fmt.Errorf("sale processor required")
	}
	svc := &service{
		repo:     params.Repo,
		sales:    params.Sales,
		metrics:  params.Metrics,
		logg:     params.Logger,
		maxBatch: params.MaxBatchSize,
		now:      params.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func (s *service) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	entry := &models.ReconciliationLog{
		TerminalID: req.TerminalID,
		StartTime:  req.StartTime.UTC(),
		EndTime:    req.EndTime.UTC(),
		Status:     enums.ReconciliationStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.metrics.ObserveRun(string(enums.ReconciliationStatusFailed), 0, 0)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open reconciliation log")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"reconciliation_id": entry.ID.String(),
		"terminal_id":       req.TerminalID.String(),
	})
	s.logg.Info(ctx, "reconciliation started")

	result := &Result{LogID: entry.ID, Items: make([]ItemOutcome, 0, len(req.Transactions))}
	for i, item := range req.Transactions {
		if err := ctx.Err(); err != nil {
			note := fmt.Sprintf("Aborted after %d of %d transactions: %v", i, len(req.Transactions), err)
			s.fail(ctx, entry, result, note)
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconciliation interrupted").
				WithDetails(map[string]any{"reconciliation_id": entry.ID.String(), "processed": i})
		}

		outcome := s.process(ctx, req, item)
		result.Processed++
		if outcome.ErrorCode == "" {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Items = append(result.Items, outcome)
	}

	entry.ProcessedCount = result.Processed
	entry.SuccessCount = result.Succeeded
	entry.FailedCount = result.Failed
	entry.Status = enums.ReconciliationStatusCompleted
	note := fmt.Sprintf("Processed %d transactions: %d succeeded, %d failed", result.Processed, result.Succeeded, result.Failed)
	entry.Notes = &note
	entry.UpdatedAt = s.now()
	if err := s.repo.Finalize(ctx, entry); err != nil {
		s.fail(ctx, entry, result, "Failed to finalize reconciliation log: "+err.Error())
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize reconciliation log").
			WithDetails(map[string]any{"reconciliation_id": entry.ID.String()})
	}

	result.Status = enums.ReconciliationStatusCompleted
	s.metrics.ObserveRun(string(result.Status), result.Succeeded, result.Failed)
	s.logg.Info(ctx, note)
	return result, nil
}

func (s *service) process(ctx context.Context, req Request, item sales.CreateInput) ItemOutcome {
	outcome := ItemOutcome{EventID: item.EventID}
	itemCtx := s.logg.WithEventID(ctx, item.EventID)

	terminalID := req.TerminalID
	item.TerminalID = &terminalID
	item.Actor = req.Actor

	created, err := s.sales.Create(itemCtx, item)
	if err != nil {
		return s.itemFailed(itemCtx, outcome, err)
	}
	txn := created.Transaction
	outcome.TransactionID = &txn.ID
	outcome.Status = txn.Status
	outcome.Created = created.Created

	if txn.Status == enums.SaleStatusPending {
		confirmed, err := s.sales.Confirm(itemCtx, txn.ID, req.Actor)
		if confirmed != nil {
			outcome.Status = confirmed.Status
		}
		if err != nil {
			return s.itemFailed(itemCtx, outcome, err)
		}
	}

	s.logg.Debug(itemCtx, "reconciliation item processed")
	return outcome
}

func (s *service) itemFailed(ctx context.Context, outcome ItemOutcome, err error) ItemOutcome {
	outcome.ErrorCode = pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		outcome.ErrorCode = typed.Code()
	}
	outcome.Error = err.Error()
	s.logg.Warn(s.logg.WithField(ctx, "error_code", string(outcome.ErrorCode)), "reconciliation item failed: "+err.Error())
	return outcome
}

// fail records a systemic failure on the log. The write uses a context that
// survives cancellation of the request.
func (s *service) fail(ctx context.Context, entry *models.ReconciliationLog, result *Result, note string) {
	entry.ProcessedCount = result.Processed
	entry.SuccessCount = result.Succeeded
	entry.FailedCount = result.Failed
	entry.Status = enums.ReconciliationStatusFailed
	entry.Notes = &note
	entry.UpdatedAt = s.now()
	result.Status = enums.ReconciliationStatusFailed

	if err := s.repo.Finalize(context.WithoutCancel(ctx), entry); err != nil {
		s.logg.Error(ctx, "mark reconciliation failed", err)
	}
	s.metrics.ObserveRun(string(result.Status), result.Succeeded, result.Failed)
	s.logg.Warn(ctx, note)
}

func (s *service) validate(req Request) error {
	if req.TerminalID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "terminal_id is required")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start_time and end_time are required")
	}
	if req.EndTime.Before(req.StartTime) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end_time must not precede start_time").
			WithDetails(map[string]any{
				"start_time": req.StartTime.UTC().Format(time.RFC3339),
				"end_time":   req.EndTime.UTC().Format(time.RFC3339),
			})
	}
	if s.maxBatch > 0 && len(req.Transactions) > s.maxBatch {
		return pkgerrors.New(pkgerrors.CodeValidation, "too many transactions in batch").
			WithDetails(map[string]any{"max": s.maxBatch, "submitted": len(req.Transactions)})
	}
	return nil
}

func (s *service) GetLog(ctx context.Context, id uuid.UUID) (*models.ReconciliationLog, error) {
	log, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation log")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reconciliation log not found").
			WithDetails(map[string]any{"reconciliation_id": id.String()})
	}
	return log, nil
}

func (s *service) ListLogs(ctx context.Context, terminalID uuid.UUID, limit int) ([]models.ReconciliationLog, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	logs, err := s.repo.ListByTerminal(ctx, terminalID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconciliation logs")
	}
	return logs, nil
}

// FailStaleRunning closes logs whose run never finalized, typically after a
// process crash mid-batch.
func (s *service) FailStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	note := fmt.Sprintf("Marked failed: still running after %s", olderThan)
	count, err := s.repo.FailStaleRunning(ctx, cutoff, note)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail stale reconciliation logs")
	}
	return count, nil
}
