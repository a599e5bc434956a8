package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/internal/catalog"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/internal/stock"
	"github.com/angelmondragon/stockledger-backend/internal/units"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type stack struct {
	svc     Service
	ledger  stock.Service
	catalog catalog.Service
	repo    Repository
	clock   *stepClock
}

func newStack(t *testing.T) *stack {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:reconciliation_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	client := db.NewFromGorm(conn)
	clock := &stepClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn), client, nil)
	require.NoError(t, err)
	ledger, err := stock.NewService(stock.ServiceParams{TX: client, Repo: stock.NewRepository(conn)})
	require.NoError(t, err)
	converter, err := units.NewService(units.NewRepository(conn), nil)
	require.NoError(t, err)
	salesSvc, err := sales.NewService(sales.ServiceParams{
		Repo:      sales.NewRepository(conn),
		Ledger:    ledger,
		Catalog:   catalogSvc,
		Converter: converter,
		Now:       clock.Now,
	})
	require.NoError(t, err)

	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:    repo,
		Sales:   salesSvc,
		Metrics: metrics.NewReconciliationMetrics(prometheus.NewRegistry()),
		Now:     clock.Now,
	})
	require.NoError(t, err)
	return &stack{svc: svc, ledger: ledger, catalog: catalogSvc, repo: repo, clock: clock}
}

func (s *stack) stockedProduct(t *testing.T, sku string, qty int64) stock.Key {
	t.Helper()
	ctx := context.Background()
	product, err := s.catalog.CreateProduct(ctx, catalog.CreateProductInput{SKU: sku, Name: sku, BaseUnit: "bottle"})
	require.NoError(t, err)
	key := stock.Key{ProductID: product.ID, LocationID: uuid.New()}
	_, err = s.ledger.Declare(ctx, stock.DeclareInput{Key: key, Quantity: decimal.NewFromInt(qty)})
	require.NoError(t, err)
	return key
}

func item(eventID string, key stock.Key, qty int64) sales.CreateInput {
	return sales.CreateInput{
		EventID:           eventID,
		ProductID:         key.ProductID,
		LocationID:        key.LocationID,
		Quantity:          decimal.NewFromInt(qty),
		UnitType:          "bottle",
		ConvertedQuantity: decimal.NewFromInt(qty),
		PricePerUnit:      decimal.RequireFromString("9.50"),
		TotalAmount:       decimal.RequireFromString("9.50").Mul(decimal.NewFromInt(qty)),
	}
}

func window() (time.Time, time.Time) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	return start, start.Add(time.Hour)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{Repo: NewRepository(nil)})
	require.Error(t, err)
}

func TestReconcileToleratesPartialFailure(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	key := s.stockedProduct(t, "CAVA", 100)
	unknown := stock.Key{ProductID: uuid.New(), LocationID: key.LocationID}
	start, end := window()
	terminalID := uuid.New()

	req := Request{
		TerminalID: terminalID,
		StartTime:  start,
		EndTime:    end,
		Transactions: []sales.CreateInput{
			item("evt-1", key, 1),
			item("evt-2", key, 2),
			item("evt-3", unknown, 1),
			item("evt-4", key, 3),
			item("evt-5", key, 4),
		},
	}
	result, err := s.svc.Reconcile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationStatusCompleted, result.Status)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	require.Len(t, result.Items, 5)
	assert.Equal(t, pkgerrors.CodeUnknownProduct, result.Items[2].ErrorCode)
	for _, i := range []int{0, 1, 3, 4} {
		assert.Empty(t, result.Items[i].ErrorCode, "item %d", i)
		assert.Equal(t, enums.SaleStatusConfirmed, result.Items[i].Status, "item %d", i)
		assert.True(t, result.Items[i].Created)
	}

	level, err := s.ledger.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, level.Quantity.Equal(decimal.NewFromInt(90)), "got %s", level.Quantity)

	log, err := s.svc.GetLog(ctx, result.LogID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationStatusCompleted, log.Status)
	assert.Equal(t, 5, log.ProcessedCount)
	assert.Equal(t, 4, log.SuccessCount)
	assert.Equal(t, 1, log.FailedCount)
	require.NotNil(t, log.Notes)
	assert.Equal(t, "Processed 5 transactions: 4 succeeded, 1 failed", *log.Notes)
	assert.Equal(t, terminalID, log.TerminalID)
}

func TestReconcileReplayDoesNotConsumeTwice(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	key := s.stockedProduct(t, "VERMUT", 10)
	start, end := window()
	req := Request{
		TerminalID:   uuid.New(),
		StartTime:    start,
		EndTime:      end,
		Transactions: []sales.CreateInput{item("evt-a", key, 2), item("evt-b", key, 3)},
	}

	_, err := s.svc.Reconcile(ctx, req)
	require.NoError(t, err)
	replay, err := s.svc.Reconcile(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, replay.Succeeded)
	for _, outcome := range replay.Items {
		assert.False(t, outcome.Created)
		assert.Equal(t, enums.SaleStatusConfirmed, outcome.Status)
	}

	level, err := s.ledger.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, level.Quantity.Equal(decimal.NewFromInt(5)), "got %s", level.Quantity)

	logs, err := s.svc.ListLogs(ctx, req.TerminalID, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestReconcileInsufficientStockCountsAsFailure(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	key := s.stockedProduct(t, "ACEITUNAS", 3)
	start, end := window()

	result, err := s.svc.Reconcile(ctx, Request{
		TerminalID:   uuid.New(),
		StartTime:    start,
		EndTime:      end,
		Transactions: []sales.CreateInput{item("evt-x", key, 2), item("evt-y", key, 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, result.Items[1].ErrorCode)
	assert.Equal(t, enums.SaleStatusFailed, result.Items[1].Status)
}

func TestReconcileValidation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	start, end := window()

	_, err := s.svc.Reconcile(ctx, Request{TerminalID: uuid.New(), StartTime: end, EndTime: start})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = s.svc.Reconcile(ctx, Request{StartTime: start, EndTime: end})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	result, err := s.svc.Reconcile(ctx, Request{TerminalID: uuid.New(), StartTime: start, EndTime: start})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, enums.ReconciliationStatusCompleted, result.Status)
}

func TestGetLogNotFound(t *testing.T) {
	s := newStack(t)
	_, err := s.svc.GetLog(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFailStaleRunning(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	start, end := window()

	old := &models.ReconciliationLog{
		TerminalID: uuid.New(),
		StartTime:  start,
		EndTime:    end,
		Status:     enums.ReconciliationStatusRunning,
		CreatedAt:  s.clock.Now().Add(-2 * time.Hour),
	}
	fresh := &models.ReconciliationLog{
		TerminalID: uuid.New(),
		StartTime:  start,
		EndTime:    end,
		Status:     enums.ReconciliationStatusRunning,
		CreatedAt:  s.clock.Now(),
	}
	require.NoError(t, s.repo.Create(ctx, old))
	require.NoError(t, s.repo.Create(ctx, fresh))

	count, err := s.svc.FailStaleRunning(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := s.svc.GetLog(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationStatusFailed, got.Status)
	got, err = s.svc.GetLog(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationStatusRunning, got.Status)
}

type memRepo struct {
	Repository
	created     []*models.ReconciliationLog
	finalized   []models.ReconciliationLog
	createErr   error
	finalizeErr error
}

func (m *memRepo) Create(_ context.Context, log *models.ReconciliationLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	log.ID = uuid.New()
	m.created = append(m.created, log)
	return nil
}

func (m *memRepo) Finalize(_ context.Context, log *models.ReconciliationLog) error {
	m.finalized = append(m.finalized, *log)
	if m.finalizeErr != nil && log.Status == enums.ReconciliationStatusCompleted {
		return m.finalizeErr
	}
	return nil
}

type fakeSales struct {
	createFn  func(ctx context.Context, input sales.CreateInput) (*sales.CreateResult, error)
	confirmFn func(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error)
}

func (f fakeSales) Create(ctx context.Context, input sales.CreateInput) (*sales.CreateResult, error) {
	return f.createFn(ctx, input)
}

func (f fakeSales) Confirm(ctx context.Context, id uuid.UUID, _ audit.Actor) (*models.SaleTransaction, error) {
	return f.confirmFn(ctx, id)
}

func confirmingSales(onCreate func(eventID string)) fakeSales {
	return fakeSales{
		createFn: func(_ context.Context, input sales.CreateInput) (*sales.CreateResult, error) {
			if onCreate != nil {
				onCreate(input.EventID)
			}
			return &sales.CreateResult{
				Transaction: &models.SaleTransaction{ID: uuid.New(), EventID: input.EventID, Status: enums.SaleStatusPending},
				Created:     true,
			}, nil
		},
		confirmFn: func(_ context.Context, id uuid.UUID) (*models.SaleTransaction, error) {
			return &models.SaleTransaction{ID: id, Status: enums.SaleStatusConfirmed}, nil
		},
	}
}

func TestReconcileOpenLogFailureIsSystemic(t *testing.T) {
	repo := &memRepo{createErr: errors.New("connection refused")}
	svc, err := NewService(ServiceParams{Repo: repo, Sales: confirmingSales(nil)})
	require.NoError(t, err)
	start, end := window()

	_, err = svc.Reconcile(context.Background(), Request{TerminalID: uuid.New(), StartTime: start, EndTime: end})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestReconcileFinalizeFailureMarksLogFailed(t *testing.T) {
	repo := &memRepo{finalizeErr: errors.New("connection reset")}
	svc, err := NewService(ServiceParams{Repo: repo, Sales: confirmingSales(nil)})
	require.NoError(t, err)
	start, end := window()

	result, err := svc.Reconcile(context.Background(), Request{
		TerminalID:   uuid.New(),
		StartTime:    start,
		EndTime:      end,
		Transactions: []sales.CreateInput{{EventID: "evt-1"}},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	require.NotNil(t, result)
	assert.Equal(t, enums.ReconciliationStatusFailed, result.Status)

	require.Len(t, repo.finalized, 2)
	last := repo.finalized[1]
	assert.Equal(t, enums.ReconciliationStatusFailed, last.Status)
	assert.Equal(t, 1, last.SuccessCount)
}

func TestReconcileStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	repo := &memRepo{}
	svc, err := NewService(ServiceParams{
		Repo: repo,
		Sales: confirmingSales(func(eventID string) {
			seen = append(seen, eventID)
			if eventID == "evt-2" {
				cancel()
			}
		}),
	})
	require.NoError(t, err)
	start, end := window()

	result, err := svc.Reconcile(ctx, Request{
		TerminalID:   uuid.New(),
		StartTime:    start,
		EndTime:      end,
		Transactions: []sales.CreateInput{{EventID: "evt-1"}, {EventID: "evt-2"}, {EventID: "evt-3"}},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, []string{"evt-1", "evt-2"}, seen)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, enums.ReconciliationStatusFailed, result.Status)

	require.Len(t, repo.finalized, 1)
	require.NotNil(t, repo.finalized[0].Notes)
	assert.Contains(t, *repo.finalized[0].Notes, "Aborted after 2 of 3 transactions")
}
