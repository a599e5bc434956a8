package units

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
)

// divisionPrecision bounds the scale of reverse conversions.
const divisionPrecision int32 = 12

// Converter turns a quantity expressed in one unit into another unit for a
// given product.
type Converter interface {
	Convert(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, fromUnit, toUnit string) (decimal.Decimal, error)
}

// Service exposes conversions plus the management of conversion rows.
type Service interface {
	Converter
	Upsert(ctx context.Context, input UpsertConversionInput) (*models.UnitConversion, error)
	List(ctx context.Context, productID uuid.UUID) ([]models.UnitConversion, error)
}

// UpsertConversionInput declares that one FromUnit equals Factor ToUnits.
type UpsertConversionInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	FromUnit  string          `json:"from_unit" validate:"required"`
	ToUnit    string          `json:"to_unit" validate:"required"`
	Factor    decimal.Decimal `json:"conversion_factor"`
	Actor     audit.Actor     `json:"-"`
}

type service struct {
	repo     Repository
	recorder audit.Recorder
}

// NewService wires a conversion service. recorder may be nil.
func NewService(repo Repository, recorder audit.Recorder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("unit conversion repository required")
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &service{repo: repo, recorder: recorder}, nil
}

// Convert uses the direct row when present, then the reverse row, and fails
// with NO_CONVERSION_AVAILABLE otherwise. Conversions are not chained.
func (s *service) Convert(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, fromUnit, toUnit string) (decimal.Decimal, error) {
	fromUnit = normalizeUnit(fromUnit)
	toUnit = normalizeUnit(toUnit)
	if fromUnit == toUnit {
		return quantity, nil
	}

	direct, err := s.repo.Find(ctx, productID, fromUnit, toUnit)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit conversion")
	}
	if direct != nil {
		return quantity.Mul(direct.ConversionFactor), nil
	}

	reverse, err := s.repo.Find(ctx, productID, toUnit, fromUnit)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit conversion")
	}
	if reverse != nil && !reverse.ConversionFactor.IsZero() {
		return quantity.DivRound(reverse.ConversionFactor, divisionPrecision), nil
	}

	return decimal.Zero, pkgerrors.New(pkgerrors.CodeNoConversion, "no conversion available").
		WithDetails(map[string]any{
			"product_id": productID.String(),
			"from_unit":  fromUnit,
			"to_unit":    toUnit,
		})
}

func (s *service) Upsert(ctx context.Context, input UpsertConversionInput) (*models.UnitConversion, error) {
	fromUnit := normalizeUnit(input.FromUnit)
	toUnit := normalizeUnit(input.ToUnit)
	switch {
	case input.ProductID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	case fromUnit == "" || toUnit == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from_unit and to_unit are required")
	case fromUnit == toUnit:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from_unit and to_unit must differ")
	case !input.Factor.IsPositive():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "conversion_factor must be positive")
	}

	previous, err := s.repo.Find(ctx, input.ProductID, fromUnit, toUnit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit conversion")
	}

	conversion := &models.UnitConversion{
		ProductID:        input.ProductID,
		FromUnit:         fromUnit,
		ToUnit:           toUnit,
		ConversionFactor: input.Factor,
	}
	if err := s.repo.Upsert(ctx, conversion); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save unit conversion")
	}

	stored, err := s.repo.Find(ctx, input.ProductID, fromUnit, toUnit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload unit conversion")
	}
	if stored == nil {
		stored = conversion
	}

	entry := audit.Entry{
		Entity:    enums.AggregateUnitConversion,
		EntityID:  stored.ID,
		Operation: enums.AuditOperationCreate,
		New:       stored,
		Actor:     input.Actor,
	}
	if previous != nil {
		entry.Operation = enums.AuditOperationUpdate
		entry.Old = previous
	}
	s.recorder.Record(ctx, entry)

	return stored, nil
}

func (s *service) List(ctx context.Context, productID uuid.UUID) ([]models.UnitConversion, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	rows, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unit conversions")
	}
	return rows, nil
}

// Unit names are case sensitive; only surrounding whitespace is dropped.
func normalizeUnit(unit string) string {
	return strings.TrimSpace(unit)
}
