package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/stock"
	"github.com/angelmondragon/stockledger-backend/internal/units"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/pagination"
)

// ProductCatalog is the slice of the catalog the state machine depends on.
type ProductCatalog interface {
	ProductExists(ctx context.Context, productID uuid.UUID) (bool, error)
	BaseUnit(ctx context.Context, productID uuid.UUID) (string, error)
}

// Service owns the sale transaction lifecycle: pending, then exactly one of
// confirmed, cancelled or failed.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Confirm(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error)
	Cancel(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error)
	GetByEventID(ctx context.Context, eventID string) (*models.SaleTransaction, error)
	ListPending(ctx context.Context, locationID *uuid.UUID, params pagination.Params) (pagination.Page[models.SaleTransaction], error)
	CancelStalePending(ctx context.Context, cutoff time.Time, limit int, actor audit.Actor) (SweepResult, error)
}

// CreateInput is one terminal or operator sale event. A zero ConvertedQuantity
// is derived from Quantity and UnitType through the product's conversions.
type CreateInput struct {
	EventID           string          `json:"event_id" validate:"required,max=128"`
	ProductID         uuid.UUID       `json:"product_id" validate:"required"`
	LocationID        uuid.UUID       `json:"location_id" validate:"required"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitType          string          `json:"unit_type" validate:"required,max=32"`
	ConvertedQuantity decimal.Decimal `json:"converted_quantity"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TerminalTimestamp *time.Time      `json:"terminal_timestamp,omitempty"`
	UserID            *uuid.UUID      `json:"user_id,omitempty"`
	TerminalID        *uuid.UUID      `json:"-"`
	Actor             audit.Actor     `json:"-"`
}

// CreateResult reports whether Create inserted a row or returned an existing one.
type CreateResult struct {
	Transaction *models.SaleTransaction
	Created     bool
}

// SweepResult summarizes a stale pending sweep.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
}

// ServiceParams groups dependencies for the sales service.
type ServiceParams struct {
	Repo      Repository
	Ledger    stock.TxLedger
	Catalog   ProductCatalog
	Converter units.Converter
	Recorder  audit.Recorder
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	repo      Repository
	ledger    stock.TxLedger
	catalog   ProductCatalog
	converter units.Converter
	recorder  audit.Recorder
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the sales service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("sales repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if params.Converter == nil {
		return nil, fmt.Errorf("unit converter required")
	}
	svc := &service{
		repo:      params.Repo,
		ledger:    params.Ledger,
		catalog:   params.Catalog,
		converter: params.Converter,
		recorder:  params.Recorder,
		logg:      params.Logger,
		now:       params.Now,
	}
	if svc.recorder == nil {
		svc.recorder = audit.Nop{}
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	eventID := strings.TrimSpace(input.EventID)
	if eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required")
	}

	existing, err := s.repo.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale transaction")
	}
	if existing != nil {
		return &CreateResult{Transaction: existing}, nil
	}

	if err := validateCreate(input); err != nil {
		return nil, err
	}

	exists, err := s.catalog.ProductExists(ctx, input.ProductID)
	if err != nil {
		return nil, dependency(err, "lookup product")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeUnknownProduct, "product does not exist").
			WithDetails(map[string]any{"product_id": input.ProductID.String()})
	}

	converted := input.ConvertedQuantity
	if converted.IsZero() {
		if converted, err = s.convertToBase(ctx, input); err != nil {
			return nil, err
		}
	}

	userID := input.UserID
	if userID == nil {
		userID = input.Actor.UserID
	}
	now := s.now()
	sale := &models.SaleTransaction{
		EventID:           eventID,
		ProductID:         input.ProductID,
		LocationID:        input.LocationID,
		TerminalID:        input.TerminalID,
		Quantity:          input.Quantity,
		UnitType:          strings.TrimSpace(input.UnitType),
		ConvertedQuantity: converted,
		PricePerUnit:      input.PricePerUnit,
		TotalAmount:       input.TotalAmount,
		Status:            enums.SaleStatusPending,
		TerminalTimestamp: input.TerminalTimestamp,
		UserID:            userID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, sale); err != nil {
		if db.IsUniqueViolation(err, "") {
			winner, findErr := s.repo.FindByEventID(ctx, eventID)
			if findErr == nil && winner != nil {
				return &CreateResult{Transaction: winner}, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sale transaction")
	}

	s.recorder.Record(ctx, audit.Entry{
		Entity:        enums.AggregateSaleTransaction,
		EntityID:      sale.ID,
		Operation:     enums.AuditOperationCreate,
		New:           sale,
		Actor:         input.Actor,
		CorrelationID: eventID,
	})
	return &CreateResult{Transaction: sale, Created: true}, nil
}

func (s *service) convertToBase(ctx context.Context, input CreateInput) (decimal.Decimal, error) {
	baseUnit, err := s.catalog.BaseUnit(ctx, input.ProductID)
	if err != nil {
		return decimal.Zero, dependency(err, "lookup product base unit")
	}
	converted, err := s.converter.Convert(ctx, input.ProductID, input.Quantity, input.UnitType, baseUnit)
	if err != nil {
		return decimal.Zero, err
	}
	if !converted.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "converted_quantity must be positive")
	}
	return converted, nil
}

// Confirm consumes the sale's converted quantity. When stock is insufficient
// the sale is persisted as failed and returned together with the error.
func (s *service) Confirm(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error) {
	sale, err := s.pendingSale(ctx, id)
	if err != nil {
		return nil, err
	}

	key := stock.Key{ProductID: sale.ProductID, LocationID: sale.LocationID}
	var (
		updated    *models.SaleTransaction
		change     *stock.Change
		consumeErr error
	)
	err = s.ledger.WithKey(ctx, key, func(tx *gorm.DB) error {
		current, err := s.lockPending(ctx, tx, id)
		if err != nil {
			return err
		}

		status := enums.SaleStatusConfirmed
		change, consumeErr = s.ledger.ConsumeTx(ctx, tx, key, current.ConvertedQuantity)
		if consumeErr != nil {
			if !pkgerrors.IsCode(consumeErr, pkgerrors.CodeInsufficientStock) {
				return consumeErr
			}
			status = enums.SaleStatusFailed
		}

		updated, err = s.finish(ctx, tx, current, status)
		return err
	})
	if err != nil {
		return nil, err
	}

	operation := enums.AuditOperationConfirm
	if consumeErr != nil {
		operation = enums.AuditOperationFail
		logCtx := s.logg.WithEventID(s.logg.WithLocationID(ctx, sale.LocationID.String()), sale.EventID)
		s.logg.Warn(logCtx, "sale failed on insufficient stock")
	}
	s.recordTransition(ctx, updated, operation, actor)
	if entry, ok := stock.AuditEntry(enums.AuditOperationConsume, change, actor, sale.EventID); ok {
		s.recorder.Record(ctx, entry)
	}

	if consumeErr != nil {
		return updated, consumeErr
	}
	return updated, nil
}

// Cancel releases up to the sale's converted quantity and never fails because
// nothing was reserved.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor audit.Actor) (*models.SaleTransaction, error) {
	sale, err := s.pendingSale(ctx, id)
	if err != nil {
		return nil, err
	}

	key := stock.Key{ProductID: sale.ProductID, LocationID: sale.LocationID}
	var (
		updated *models.SaleTransaction
		change  *stock.Change
	)
	err = s.ledger.WithKey(ctx, key, func(tx *gorm.DB) error {
		current, err := s.lockPending(ctx, tx, id)
		if err != nil {
			return err
		}

		var releaseErr error
		change, releaseErr = s.ledger.ReleaseTx(ctx, tx, key, current.ConvertedQuantity)
		if releaseErr != nil {
			// A failed statement poisons the transaction; anything else is skipped.
			if pkgerrors.IsCode(releaseErr, pkgerrors.CodeDependency) {
				return releaseErr
			}
			s.logg.Warn(s.logg.WithEventID(ctx, current.EventID), "release on cancel skipped: "+releaseErr.Error())
			change = nil
		}

		updated, err = s.finish(ctx, tx, current, enums.SaleStatusCancelled)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, updated, enums.AuditOperationCancel, actor)
	if entry, ok := stock.AuditEntry(enums.AuditOperationRelease, change, actor, sale.EventID); ok {
		s.recorder.Record(ctx, entry)
	}
	return updated, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error) {
	sale, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale transaction")
	}
	if sale == nil {
		return nil, notFound(id)
	}
	return sale, nil
}

func (s *service) GetByEventID(ctx context.Context, eventID string) (*models.SaleTransaction, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required")
	}
	sale, err := s.repo.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale transaction")
	}
	if sale == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale transaction not found").
			WithDetails(map[string]any{"event_id": eventID})
	}
	return sale, nil
}

func (s *service) ListPending(ctx context.Context, locationID *uuid.UUID, params pagination.Params) (pagination.Page[models.SaleTransaction], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.SaleTransaction]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListPending(ctx, locationID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.SaleTransaction]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending sales")
	}
	return pagination.Trim(rows, params.Limit, func(sale models.SaleTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: sale.CreatedAt, ID: sale.ID}
	}), nil
}

// CancelStalePending cancels pending sales created before cutoff. Sales that
// moved on concurrently are skipped; other failures are collected.
func (s *service) CancelStalePending(ctx context.Context, cutoff time.Time, limit int, actor audit.Actor) (SweepResult, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	rows, err := s.repo.ListPendingCreatedBefore(ctx, cutoff, limit)
	if err != nil {
		return SweepResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending sales")
	}

	result := SweepResult{Scanned: len(rows)}
	var errs error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if _, err := s.Cancel(ctx, row.ID, actor); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("cancel sale %s: %w", row.ID, err))
			continue
		}
		result.Cancelled++
	}
	return result, errs
}

func (s *service) pendingSale(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	sale, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale.Status != enums.SaleStatusPending {
		return nil, invalidTransition(sale)
	}
	return sale, nil
}

func (s *service) lockPending(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.SaleTransaction, error) {
	current, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sale transaction")
	}
	if current == nil {
		return nil, notFound(id)
	}
	if current.Status != enums.SaleStatusPending {
		return nil, invalidTransition(current)
	}
	return current, nil
}

func (s *service) finish(ctx context.Context, tx *gorm.DB, sale *models.SaleTransaction, status enums.SaleStatus) (*models.SaleTransaction, error) {
	processedAt := s.now()
	moved, err := s.repo.WithTx(tx).TransitionFromPending(ctx, sale.ID, status, processedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sale transaction")
	}
	if !moved {
		return nil, invalidTransition(sale)
	}
	updated := *sale
	updated.Status = status
	updated.ProcessedAt = &processedAt
	updated.UpdatedAt = processedAt
	return &updated, nil
}

type statusSnapshot struct {
	Status      enums.SaleStatus `json:"status"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

func (s *service) recordTransition(ctx context.Context, sale *models.SaleTransaction, operation enums.AuditOperation, actor audit.Actor) {
	s.recorder.Record(ctx, audit.Entry{
		Entity:        enums.AggregateSaleTransaction,
		EntityID:      sale.ID,
		Operation:     operation,
		Old:           statusSnapshot{Status: enums.SaleStatusPending},
		New:           statusSnapshot{Status: sale.Status, ProcessedAt: sale.ProcessedAt},
		Actor:         actor,
		CorrelationID: sale.EventID,
	})
}

func validateCreate(input CreateInput) error {
	switch {
	case input.ProductID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	case input.LocationID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "location_id is required")
	case !input.Quantity.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	case strings.TrimSpace(input.UnitType) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "unit_type is required")
	case input.ConvertedQuantity.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "converted_quantity must not be negative")
	case input.PricePerUnit.IsNegative() || input.TotalAmount.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "amounts must not be negative")
	}
	return nil
}

func notFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "sale transaction not found").
		WithDetails(map[string]any{"transaction_id": id.String()})
}

func invalidTransition(sale *models.SaleTransaction) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "sale transaction is not pending").
		WithDetails(map[string]any{
			"transaction_id": sale.ID.String(),
			"status":         sale.Status,
		})
}

// dependency keeps typed errors from collaborators and wraps the rest.
func dependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
