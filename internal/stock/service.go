package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
)

const (
	opReserve = "reserve"
	opRelease = "release"
	opConsume = "consume"
	opDeclare = "declare"
	opScope   = "scope"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Key identifies one stock row.
type Key struct {
	ProductID  uuid.UUID `json:"product_id"`
	LocationID uuid.UUID `json:"location_id"`
}

func (k Key) String() string {
	return k.ProductID.String() + "/" + k.LocationID.String()
}

func (k Key) validate() error {
	if k.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if k.LocationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "location_id is required")
	}
	return nil
}

// Change is the before/after view of one mutation. Before is nil when the row
// was created by the mutation; After is nil when nothing was touched.
type Change struct {
	Before *models.StockLevel
	After  *models.StockLevel
}

// MutationInput carries a reserve, release or consume request.
type MutationInput struct {
	Key
	Quantity decimal.Decimal `json:"quantity"`
	Actor    audit.Actor     `json:"-"`
}

// DeclareInput sets on-hand quantity for a key. Nil levels keep their current value.
type DeclareInput struct {
	Key
	Quantity      decimal.Decimal  `json:"quantity"`
	MinStockLevel *decimal.Decimal `json:"min_stock_level,omitempty"`
	MaxStockLevel *decimal.Decimal `json:"max_stock_level,omitempty"`
	Actor         audit.Actor      `json:"-"`
}

// TxLedger lets callers run ledger mutations inside their own transaction.
// The *Tx methods must be called from within WithKey for the same key.
type TxLedger interface {
	WithKey(ctx context.Context, key Key, fn func(tx *gorm.DB) error) error
	ReserveTx(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error)
	ConsumeTx(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error)
}

// Service is the stock ledger.
type Service interface {
	TxLedger
	Reserve(ctx context.Context, input MutationInput) (*models.StockLevel, error)
	Release(ctx context.Context, input MutationInput) (*models.StockLevel, error)
	Consume(ctx context.Context, input MutationInput) (*models.StockLevel, error)
	Get(ctx context.Context, key Key) (*models.StockLevel, error)
	Declare(ctx context.Context, input DeclareInput) (*models.StockLevel, error)
	ListByLocation(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error)
}

// ServiceParams groups dependencies for the stock ledger.
type ServiceParams struct {
	TX       txRunner
	Repo     Repository
	Recorder audit.Recorder
	Metrics  *metrics.LedgerMetrics
	Logger   *logger.Logger
}

type service struct {
	tx       txRunner
	repo     Repository
	recorder audit.Recorder
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	locks    *keyLocks
}

// NewService builds the stock ledger with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	recorder := params.Recorder
	if recorder == nil {
		recorder = audit.Nop{}
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:       params.TX,
		repo:     params.Repo,
		recorder: recorder,
		metrics:  params.Metrics,
		logg:     logg,
		locks:    newKeyLocks(),
	}, nil
}

// WithKey runs fn in a transaction while holding the in-process lock for key.
func (s *service) WithKey(ctx context.Context, key Key, fn func(tx *gorm.DB) error) error {
	return s.withKey(ctx, key, opScope, fn)
}

func (s *service) withKey(ctx context.Context, key Key, op string, fn func(tx *gorm.DB) error) error {
	if err := key.validate(); err != nil {
		return err
	}
	unlock, err := s.locks.acquire(ctx, key)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire stock lock")
	}
	defer unlock()

	started := time.Now()
	err = s.tx.WithTx(ctx, fn)
	s.metrics.ObserveLockHeld(op, time.Since(started))
	if err != nil && pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stock transaction failed")
	}
	return err
}

func (s *service) ReserveTx(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	level, err := loadForUpdate(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	if level == nil {
		return nil, insufficientStock(key, decimal.Zero, qty)
	}
	if available := level.Available(); available.LessThan(qty) {
		return nil, insufficientStock(key, available, qty)
	}

	before := *level
	level.ReservedQuantity = level.ReservedQuantity.Add(qty)
	return persist(ctx, repo, &before, level)
}

// ReleaseTx never fails on a missing row; the returned Change is empty instead.
func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	level, err := loadForUpdate(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	if level == nil {
		return &Change{}, nil
	}

	before := *level
	level.ReservedQuantity = decimal.Max(decimal.Zero, level.ReservedQuantity.Sub(qty))
	return persist(ctx, repo, &before, level)
}

func (s *service) ConsumeTx(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	level, err := loadForUpdate(ctx, repo, key)
	if err != nil {
		return nil, err
	}
	if level == nil {
		return nil, insufficientStock(key, decimal.Zero, qty)
	}
	if available := level.Available(); available.LessThan(qty) {
		return nil, insufficientStock(key, available, qty)
	}

	before := *level
	level.Quantity = level.Quantity.Sub(qty)
	level.ReservedQuantity = decimal.Max(decimal.Zero, level.ReservedQuantity.Sub(qty))
	return persist(ctx, repo, &before, level)
}

func (s *service) Reserve(ctx context.Context, input MutationInput) (*models.StockLevel, error) {
	return s.mutate(ctx, opReserve, enums.AuditOperationReserve, input, s.ReserveTx)
}

// Release returns an unsaved zero level when the key has no row.
func (s *service) Release(ctx context.Context, input MutationInput) (*models.StockLevel, error) {
	level, err := s.mutate(ctx, opRelease, enums.AuditOperationRelease, input, s.ReleaseTx)
	if err != nil {
		return nil, err
	}
	if level == nil {
		level = &models.StockLevel{ProductID: input.ProductID, LocationID: input.LocationID}
	}
	return level, nil
}

func (s *service) Consume(ctx context.Context, input MutationInput) (*models.StockLevel, error) {
	return s.mutate(ctx, opConsume, enums.AuditOperationConsume, input, s.ConsumeTx)
}

type txMutation func(ctx context.Context, tx *gorm.DB, key Key, qty decimal.Decimal) (*Change, error)

func (s *service) mutate(ctx context.Context, op string, auditOp enums.AuditOperation, input MutationInput, apply txMutation) (*models.StockLevel, error) {
	var change *Change
	err := s.withKey(ctx, input.Key, op, func(tx *gorm.DB) error {
		var err error
		change, err = apply(ctx, tx, input.Key, input.Quantity)
		return err
	})
	s.observe(ctx, op, input.Key, err)
	if err != nil {
		return nil, err
	}

	if entry, ok := AuditEntry(auditOp, change, input.Actor, input.Actor.RequestID); ok {
		s.recorder.Record(ctx, entry)
	}
	return change.After, nil
}

func (s *service) Get(ctx context.Context, key Key) (*models.StockLevel, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	level, err := s.repo.Find(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock level")
	}
	if level == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock level not found").WithDetails(keyDetails(key))
	}
	return level, nil
}

func (s *service) Declare(ctx context.Context, input DeclareInput) (*models.StockLevel, error) {
	if input.Quantity.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	for _, bound := range []*decimal.Decimal{input.MinStockLevel, input.MaxStockLevel} {
		if bound != nil && bound.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock levels must not be negative")
		}
	}

	var change *Change
	err := s.withKey(ctx, input.Key, opDeclare, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		level, err := loadForUpdate(ctx, repo, input.Key)
		if err != nil {
			return err
		}
		var before *models.StockLevel
		if level == nil {
			if err := repo.EnsureRow(ctx, input.Key); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock level")
			}
			if level, err = loadForUpdate(ctx, repo, input.Key); err != nil {
				return err
			}
			if level == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "stock level missing after insert")
			}
		} else {
			snapshot := *level
			before = &snapshot
		}

		if input.Quantity.LessThan(level.ReservedQuantity) {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity is below reserved quantity").
				WithDetails(map[string]any{
					"product_id":        input.ProductID.String(),
					"location_id":       input.LocationID.String(),
					"reserved_quantity": level.ReservedQuantity.String(),
					"quantity":          input.Quantity.String(),
				})
		}
		level.Quantity = input.Quantity
		if input.MinStockLevel != nil {
			level.MinStockLevel = *input.MinStockLevel
		}
		if input.MaxStockLevel != nil {
			level.MaxStockLevel = *input.MaxStockLevel
		}
		if level.MaxStockLevel.IsPositive() && level.MinStockLevel.GreaterThan(level.MaxStockLevel) {
			return pkgerrors.New(pkgerrors.CodeValidation, "min_stock_level exceeds max_stock_level")
		}

		change, err = persist(ctx, repo, before, level)
		return err
	})
	s.observe(ctx, opDeclare, input.Key, err)
	if err != nil {
		return nil, err
	}

	operation := enums.AuditOperationUpdate
	if change.Before == nil {
		operation = enums.AuditOperationCreate
	}
	if entry, ok := AuditEntry(operation, change, input.Actor, input.Actor.RequestID); ok {
		s.recorder.Record(ctx, entry)
	}
	return change.After, nil
}

func (s *service) ListByLocation(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error) {
	if locationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location_id is required")
	}
	levels, err := s.repo.ListByLocation(ctx, locationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock levels")
	}
	return levels, nil
}

func (s *service) observe(ctx context.Context, op string, key Key, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveOperation(op, metrics.OutcomeOK)
	case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
		s.metrics.ObserveOperation(op, metrics.OutcomeInsufficient)
	default:
		s.metrics.ObserveOperation(op, metrics.OutcomeError)
		if code := pkgerrors.As(err); code == nil || pkgerrors.MetadataFor(code.Code()).HTTPStatus >= 500 {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"stock_operation": op,
				"stock_key":       key.String(),
			})
			s.logg.Error(logCtx, "stock operation failed", err)
		}
	}
}

func loadForUpdate(ctx context.Context, repo Repository, key Key) (*models.StockLevel, error) {
	level, err := repo.FindForUpdate(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock level")
	}
	return level, nil
}

func persist(ctx context.Context, repo Repository, before, after *models.StockLevel) (*Change, error) {
	if err := checkInvariant(after); err != nil {
		return nil, err
	}
	if err := repo.SaveLevels(ctx, after); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save stock level")
	}
	return &Change{Before: before, After: after}, nil
}

// checkInvariant enforces 0 <= reserved <= quantity. Violations abort the
// transaction instead of being clamped.
func checkInvariant(level *models.StockLevel) error {
	if level.ReservedQuantity.IsNegative() || level.ReservedQuantity.GreaterThan(level.Quantity) {
		return pkgerrors.New(pkgerrors.CodeInternal, "stock invariant violated").WithDetails(map[string]any{
			"product_id":        level.ProductID.String(),
			"location_id":       level.LocationID.String(),
			"quantity":          level.Quantity.String(),
			"reserved_quantity": level.ReservedQuantity.String(),
		})
	}
	return nil
}

func validateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"quantity": qty.String()})
	}
	return nil
}

func insufficientStock(key Key, available, requested decimal.Decimal) error {
	details := keyDetails(key)
	details["available"] = available.String()
	details["requested"] = requested.String()
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(details)
}

func keyDetails(key Key) map[string]any {
	return map[string]any{
		"product_id":  key.ProductID.String(),
		"location_id": key.LocationID.String(),
	}
}

type levelSnapshot struct {
	ProductID        uuid.UUID       `json:"product_id"`
	LocationID       uuid.UUID       `json:"location_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReservedQuantity decimal.Decimal `json:"reserved_quantity"`
}

func snapshotOf(level *models.StockLevel) any {
	if level == nil {
		return nil
	}
	return levelSnapshot{
		ProductID:        level.ProductID,
		LocationID:       level.LocationID,
		Quantity:         level.Quantity,
		ReservedQuantity: level.ReservedQuantity,
	}
}

// AuditEntry builds the audit entry for a committed change. It reports false
// when the change touched nothing.
func AuditEntry(operation enums.AuditOperation, change *Change, actor audit.Actor, correlationID string) (audit.Entry, bool) {
	if change == nil || change.After == nil {
		return audit.Entry{}, false
	}
	return audit.Entry{
		Entity:        enums.AggregateStockLevel,
		EntityID:      change.After.ID,
		Operation:     operation,
		Old:           snapshotOf(change.Before),
		New:           snapshotOf(change.After),
		Actor:         actor,
		CorrelationID: correlationID,
	}, true
}
