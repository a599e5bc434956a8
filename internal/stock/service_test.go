package stock

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
)

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, entry audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

type fixture struct {
	svc      Service
	db       *gorm.DB
	recorder *captureRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:stock_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.StockLevel{}))

	recorder := &captureRecorder{}
	svc, err := NewService(ServiceParams{
		TX:       db.NewFromGorm(conn),
		Repo:     NewRepository(conn),
		Recorder: recorder,
	})
	require.NoError(t, err)
	return fixture{svc: svc, db: conn, recorder: recorder}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newKey() Key {
	return Key{ProductID: uuid.New(), LocationID: uuid.New()}
}

func (f fixture) declare(t *testing.T, key Key, qty string) {
	t.Helper()
	_, err := f.svc.Declare(context.Background(), DeclareInput{Key: key, Quantity: dec(qty)})
	require.NoError(t, err)
}

func (f fixture) level(t *testing.T, key Key) *models.StockLevel {
	t.Helper()
	level, err := f.svc.Get(context.Background(), key)
	require.NoError(t, err)
	return level
}

func assertLevel(t *testing.T, level *models.StockLevel, quantity, reserved string) {
	t.Helper()
	assert.True(t, level.Quantity.Equal(dec(quantity)), "quantity: want %s got %s", quantity, level.Quantity)
	assert.True(t, level.ReservedQuantity.Equal(dec(reserved)), "reserved: want %s got %s", reserved, level.ReservedQuantity)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Repo: NewRepository(nil)})
	require.Error(t, err)
	_, err = NewService(ServiceParams{TX: db.NewFromGorm(nil)})
	require.Error(t, err)
}

func TestReserveReleaseConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	f.declare(t, key, "10")

	level, err := f.svc.Reserve(ctx, MutationInput{Key: key, Quantity: dec("4")})
	require.NoError(t, err)
	assertLevel(t, level, "10", "4")

	_, err = f.svc.Reserve(ctx, MutationInput{Key: key, Quantity: dec("7")})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assertLevel(t, f.level(t, key), "10", "4")

	level, err = f.svc.Release(ctx, MutationInput{Key: key, Quantity: dec("1")})
	require.NoError(t, err)
	assertLevel(t, level, "10", "3")

	level, err = f.svc.Consume(ctx, MutationInput{Key: key, Quantity: dec("6")})
	require.NoError(t, err)
	assertLevel(t, level, "4", "0")

	level, err = f.svc.Release(ctx, MutationInput{Key: key, Quantity: dec("5")})
	require.NoError(t, err)
	assertLevel(t, level, "4", "0")
}

func TestConsumeRejectsMoreThanAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	f.declare(t, key, "5")
	_, err := f.svc.Reserve(ctx, MutationInput{Key: key, Quantity: dec("3")})
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, MutationInput{Key: key, Quantity: dec("3")})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2", details["available"])
	assert.Equal(t, "3", details["requested"])

	assertLevel(t, f.level(t, key), "5", "3")
}

func TestMissingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()

	_, err := f.svc.Reserve(ctx, MutationInput{Key: key, Quantity: dec("1")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	_, err = f.svc.Consume(ctx, MutationInput{Key: key, Quantity: dec("1")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	level, err := f.svc.Release(ctx, MutationInput{Key: key, Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, level.ID)
	assert.True(t, level.Quantity.IsZero())

	_, err = f.svc.Get(ctx, key)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	var count int64
	require.NoError(t, f.db.Model(&models.StockLevel{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, f.recorder.entries)
}

func TestNonPositiveQuantityIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	f.declare(t, key, "10")

	for _, qty := range []string{"0", "-1"} {
		input := MutationInput{Key: key, Quantity: dec(qty)}
		_, err := f.svc.Reserve(ctx, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "reserve %s", qty)
		_, err = f.svc.Release(ctx, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "release %s", qty)
		_, err = f.svc.Consume(ctx, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "consume %s", qty)
	}
	assertLevel(t, f.level(t, key), "10", "0")
}

func TestKeyValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reserve(context.Background(), MutationInput{Key: Key{ProductID: uuid.New()}, Quantity: dec("1")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.ListByLocation(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDeclare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	minLevel := dec("2")

	level, err := f.svc.Declare(ctx, DeclareInput{Key: key, Quantity: dec("8"), MinStockLevel: &minLevel})
	require.NoError(t, err)
	assertLevel(t, level, "8", "0")
	assert.True(t, level.MinStockLevel.Equal(minLevel))
	assert.True(t, level.MaxStockLevel.Equal(dec("999999")), "lazily created rows get the default ceiling")

	_, err = f.svc.Reserve(ctx, MutationInput{Key: key, Quantity: dec("6")})
	require.NoError(t, err)

	_, err = f.svc.Declare(ctx, DeclareInput{Key: key, Quantity: dec("5")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	level, err = f.svc.Declare(ctx, DeclareInput{Key: key, Quantity: dec("6")})
	require.NoError(t, err)
	assertLevel(t, level, "6", "6")
	assert.True(t, level.MinStockLevel.Equal(minLevel), "min level kept when not provided")

	_, err = f.svc.Declare(ctx, DeclareInput{Key: key, Quantity: dec("-1")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	levels, err := f.svc.ListByLocation(ctx, key.LocationID)
	require.NoError(t, err)
	require.Len(t, levels, 1)

	require.GreaterOrEqual(t, len(f.recorder.entries), 3)
	assert.Equal(t, enums.AuditOperationCreate, f.recorder.entries[0].Operation)
	assert.Nil(t, f.recorder.entries[0].Old)
	assert.Equal(t, enums.AuditOperationReserve, f.recorder.entries[1].Operation)
	assert.Equal(t, enums.AuditOperationUpdate, f.recorder.entries[2].Operation)
}

func TestWithKeyRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	f.declare(t, key, "10")

	boom := errors.New("boom")
	err := f.svc.WithKey(ctx, key, func(tx *gorm.DB) error {
		if _, err := f.svc.ReserveTx(ctx, tx, key, dec("4")); err != nil {
			return err
		}
		if _, err := f.svc.ConsumeTx(ctx, tx, key, dec("2")); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.ErrorIs(t, err, boom)

	assertLevel(t, f.level(t, key), "10", "0")
}

func TestCheckInvariant(t *testing.T) {
	ok := &models.StockLevel{Quantity: dec("5"), ReservedQuantity: dec("5")}
	require.NoError(t, checkInvariant(ok))

	over := &models.StockLevel{Quantity: dec("5"), ReservedQuantity: dec("6")}
	assert.True(t, pkgerrors.IsCode(checkInvariant(over), pkgerrors.CodeInternal))

	negative := &models.StockLevel{Quantity: dec("5"), ReservedQuantity: dec("-1")}
	assert.True(t, pkgerrors.IsCode(checkInvariant(negative), pkgerrors.CodeInternal))
}

func TestReservationInvariantOverRandomSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	f.declare(t, key, "50")

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		qty := decimal.NewFromInt(int64(rng.Intn(8) + 1))
		before := f.level(t, key)
		input := MutationInput{Key: key, Quantity: qty}

		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = f.svc.Reserve(ctx, input)
		case 1:
			_, err = f.svc.Release(ctx, input)
		default:
			_, err = f.svc.Consume(ctx, input)
		}

		after := f.level(t, key)
		if err != nil {
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "step %d: %v", i, err)
			assertLevel(t, after, before.Quantity.String(), before.ReservedQuantity.String())
		}
		require.False(t, after.ReservedQuantity.IsNegative(), "step %d", i)
		require.True(t, after.ReservedQuantity.LessThanOrEqual(after.Quantity), "step %d", i)
		require.True(t, after.Quantity.LessThanOrEqual(before.Quantity), "quantity only decreases, step %d", i)

		if after.Quantity.LessThan(dec("5")) {
			f.declare(t, key, after.Quantity.Add(dec("20")).String())
		}
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := newKey()
	f.declare(t, key, "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reserve(ctx, MutationInput{Key: key, Quantity: dec("1")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, insufficient)
	assertLevel(t, f.level(t, key), "10", "10")
}

func TestAuditEntry(t *testing.T) {
	_, ok := AuditEntry(enums.AuditOperationRelease, &Change{}, audit.Actor{}, "")
	assert.False(t, ok)

	after := &models.StockLevel{ID: uuid.New(), Quantity: dec("3")}
	entry, ok := AuditEntry(enums.AuditOperationConsume, &Change{After: after}, audit.Actor{RequestID: "req"}, "evt")
	require.True(t, ok)
	assert.Equal(t, after.ID, entry.EntityID)
	assert.Equal(t, enums.AggregateStockLevel, entry.Entity)
	assert.Nil(t, entry.Old)
	assert.Equal(t, "evt", entry.CorrelationID)
}
