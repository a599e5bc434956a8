package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
)

const defaultUnit = "base"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages products, composite decompositions and locations.
type Service interface {
	CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDetail, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductDetail, error)
	SetComponents(ctx context.Context, productID uuid.UUID, components []ComponentInput, actor audit.Actor) (*ProductDetail, error)
	CreateLocation(ctx context.Context, input CreateLocationInput) (*models.Location, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	LocationCatalog(ctx context.Context, locationID uuid.UUID) ([]CatalogItem, error)

	ProductExists(ctx context.Context, id uuid.UUID) (bool, error)
	BaseUnit(ctx context.Context, id uuid.UUID) (string, error)
	ProductType(ctx context.Context, id uuid.UUID) (enums.ProductType, error)
}

// CreateProductInput declares a product. Wine fields are only accepted for
// wine bottles, olive fields for olive jars and components for composites.
type CreateProductInput struct {
	SKU          string            `json:"sku" validate:"required,max=100"`
	Name         string            `json:"name" validate:"required,max=255"`
	Description  *string           `json:"description,omitempty"`
	Type         enums.ProductType `json:"type"`
	IsActive     *bool             `json:"is_active,omitempty"`
	BaseUnit     string            `json:"base_unit" validate:"omitempty,max=50"`
	BaseQuantity *decimal.Decimal  `json:"base_quantity,omitempty"`

	VintageYear      *int             `json:"vintage_year,omitempty"`
	VolumeL          *decimal.Decimal `json:"volume_l,omitempty"`
	AlcoholPct       *decimal.Decimal `json:"alcohol_pct,omitempty"`
	GlassesPerBottle *int             `json:"glasses_per_bottle,omitempty"`

	WeightG         *decimal.Decimal `json:"weight_g,omitempty"`
	CaloriesPer100g *decimal.Decimal `json:"calories_per_100g,omitempty"`
	HasPit          *bool            `json:"has_pit,omitempty"`

	Components []ComponentInput `json:"component_items,omitempty" validate:"dive"`
	Actor      audit.Actor      `json:"-"`
}

// ComponentInput is one child of a composite product.
type ComponentInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitType  string          `json:"unit_type" validate:"omitempty,max=50"`
}

// CreateLocationInput declares a stock location.
type CreateLocationInput struct {
	Code     string      `json:"code" validate:"required,max=50"`
	Name     string      `json:"name" validate:"required,max=255"`
	Address  *string     `json:"address,omitempty"`
	IsActive *bool       `json:"is_active,omitempty"`
	Actor    audit.Actor `json:"-"`
}

// ProductDetail is a product with its composite decomposition.
type ProductDetail struct {
	models.Product
	Components []models.ProductComponent `json:"component_items"`
}

// CatalogItem is one sellable product at a location. Prices are not modelled
// per location yet, so PricePerUnit is always zero.
type CatalogItem struct {
	Product      models.Product    `json:"product"`
	StockLevel   models.StockLevel `json:"stock_level"`
	PricePerUnit decimal.Decimal   `json:"price_per_unit"`
}

type service struct {
	repo     Repository
	tx       txRunner
	recorder audit.Recorder
}

// NewService builds the catalog service. recorder may be nil.
func NewService(repo Repository, tx txRunner, recorder audit.Recorder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &service{repo: repo, tx: tx, recorder: recorder}, nil
}

func (s *service) CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDetail, error) {
	product, err := buildProduct(input)
	if err != nil {
		return nil, err
	}
	if len(input.Components) > 0 && product.Type != enums.ProductTypeComposite {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only composite products have components")
	}

	var components []models.ProductComponent
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateProduct(ctx, product); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "sku already exists").
					WithDetails(map[string]any{"sku": product.SKU})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
		}
		if len(input.Components) == 0 {
			return nil
		}
		var err error
		components, err = s.replaceComponents(ctx, repo, product.ID, input.Components)
		return err
	})
	if err != nil {
		return nil, typed(err, "create product")
	}

	s.recorder.Record(ctx, audit.Entry{
		Entity:    enums.AggregateProduct,
		EntityID:  product.ID,
		Operation: enums.AuditOperationCreate,
		New:       product,
		Actor:     input.Actor,
	})
	return &ProductDetail{Product: *product, Components: components}, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDetail, error) {
	product, err := s.findProduct(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	detail := &ProductDetail{Product: *product, Components: []models.ProductComponent{}}
	if product.Type == enums.ProductTypeComposite {
		components, err := s.repo.ListComponents(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list components")
		}
		detail.Components = components
	}
	return detail, nil
}

// SetComponents replaces the whole decomposition of a composite product.
func (s *service) SetComponents(ctx context.Context, productID uuid.UUID, components []ComponentInput, actor audit.Actor) (*ProductDetail, error) {
	var (
		product  *models.Product
		previous []models.ProductComponent
		stored   []models.ProductComponent
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if product, err = s.findProduct(ctx, repo, productID); err != nil {
			return err
		}
		if product.Type != enums.ProductTypeComposite {
			return pkgerrors.New(pkgerrors.CodeValidation, "only composite products have components").
				WithDetails(map[string]any{"product_id": productID.String(), "type": product.Type})
		}
		if previous, err = repo.ListComponents(ctx, productID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list components")
		}
		stored, err = s.replaceComponents(ctx, repo, productID, components)
		return err
	})
	if err != nil {
		return nil, typed(err, "set components")
	}

	s.recorder.Record(ctx, audit.Entry{
		Entity:    enums.AggregateProduct,
		EntityID:  productID,
		Operation: enums.AuditOperationUpdate,
		Old:       map[string]any{"component_items": previous},
		New:       map[string]any{"component_items": stored},
		Actor:     actor,
	})
	return &ProductDetail{Product: *product, Components: stored}, nil
}

func (s *service) replaceComponents(ctx context.Context, repo Repository, parentID uuid.UUID, inputs []ComponentInput) ([]models.ProductComponent, error) {
	seen := make(map[uuid.UUID]struct{}, len(inputs))
	rows := make([]models.ProductComponent, 0, len(inputs))
	for i, input := range inputs {
		switch {
		case input.ProductID == uuid.Nil:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "component product_id is required")
		case input.ProductID == parentID:
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "a product cannot contain itself")
		case !input.Quantity.IsPositive():
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "component quantity must be positive")
		}
		if _, dup := seen[input.ProductID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate component").
				WithDetails(map[string]any{"product_id": input.ProductID.String()})
		}
		seen[input.ProductID] = struct{}{}

		if _, err := s.findProduct(ctx, repo, input.ProductID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeUnknownProduct, "component product does not exist").
					WithDetails(map[string]any{"product_id": input.ProductID.String()})
			}
			return nil, err
		}
		cyclic, err := reaches(ctx, repo, input.ProductID, parentID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "component would create a cycle").
				WithDetails(map[string]any{"product_id": input.ProductID.String()})
		}

		unit := strings.TrimSpace(input.UnitType)
		if unit == "" {
			unit = defaultUnit
		}
		rows = append(rows, models.ProductComponent{
			ParentProductID: parentID,
			ChildProductID:  input.ProductID,
			Quantity:        input.Quantity,
			UnitType:        unit,
			Position:        i,
		})
	}

	if err := repo.ReplaceComponents(ctx, parentID, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save components")
	}
	return rows, nil
}

// reaches reports whether target is from or one of its transitive components.
func reaches(ctx context.Context, repo Repository, from, target uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]struct{}{}
	stack := []uuid.UUID{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == target {
			return true, nil
		}
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		children, err := repo.ListComponents(ctx, current)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "walk components")
		}
		for _, child := range children {
			stack = append(stack, child.ChildProductID)
		}
	}
	return false, nil
}

func (s *service) CreateLocation(ctx context.Context, input CreateLocationInput) (*models.Location, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code and name are required")
	}
	location := &models.Location{
		Code:     code,
		Name:     name,
		Address:  input.Address,
		IsActive: input.IsActive == nil || *input.IsActive,
	}
	if err := s.repo.CreateLocation(ctx, location); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "location code already exists").
				WithDetails(map[string]any{"code": code})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create location")
	}
	s.recorder.Record(ctx, audit.Entry{
		Entity:    enums.AggregateLocation,
		EntityID:  location.ID,
		Operation: enums.AuditOperationCreate,
		New:       location,
		Actor:     input.Actor,
	})
	return location, nil
}

func (s *service) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	location, err := s.repo.FindLocation(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load location")
	}
	if location == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "location not found").
			WithDetails(map[string]any{"location_id": id.String()})
	}
	return location, nil
}

// LocationCatalog lists active products stocked at the location.
func (s *service) LocationCatalog(ctx context.Context, locationID uuid.UUID) ([]CatalogItem, error) {
	if _, err := s.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	levels, err := s.repo.ListStockAtLocation(ctx, locationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock levels")
	}

	ids := make([]uuid.UUID, 0, len(levels))
	for _, level := range levels {
		ids = append(ids, level.ProductID)
	}
	products, err := s.repo.FindProducts(ctx, ids, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	items := make([]CatalogItem, 0, len(levels))
	for _, level := range levels {
		product, ok := byID[level.ProductID]
		if !ok {
			continue
		}
		items = append(items, CatalogItem{
			Product:      product,
			StockLevel:   level,
			PricePerUnit: decimal.Zero,
		})
	}
	return items, nil
}

func (s *service) ProductExists(ctx context.Context, id uuid.UUID) (bool, error) {
	product, err := s.repo.FindProduct(ctx, id)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product != nil, nil
}

func (s *service) BaseUnit(ctx context.Context, id uuid.UUID) (string, error) {
	product, err := s.findProduct(ctx, s.repo, id)
	if err != nil {
		return "", err
	}
	return product.BaseUnit, nil
}

func (s *service) ProductType(ctx context.Context, id uuid.UUID) (enums.ProductType, error) {
	product, err := s.findProduct(ctx, s.repo, id)
	if err != nil {
		return "", err
	}
	return product.Type, nil
}

func (s *service) findProduct(ctx context.Context, repo Repository, id uuid.UUID) (*models.Product, error) {
	product, err := repo.FindProduct(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": id.String()})
	}
	return product, nil
}

func buildProduct(input CreateProductInput) (*models.Product, error) {
	sku := strings.TrimSpace(input.SKU)
	name := strings.TrimSpace(input.Name)
	if sku == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and name are required")
	}

	productType := input.Type
	if productType == "" {
		productType = enums.ProductTypeSimple
	}
	if !productType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product type").
			WithDetails(map[string]any{"type": input.Type})
	}

	hasWine := input.VintageYear != nil || input.VolumeL != nil || input.AlcoholPct != nil || input.GlassesPerBottle != nil
	hasOlive := input.WeightG != nil || input.CaloriesPer100g != nil || input.HasPit != nil
	if hasWine && productType != enums.ProductTypeWineBottle {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wine attributes require type wine_bottle")
	}
	if hasOlive && productType != enums.ProductTypeOliveJar {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "olive attributes require type olive_jar")
	}

	baseUnit := strings.TrimSpace(input.BaseUnit)
	if baseUnit == "" {
		baseUnit = defaultUnit
	}
	baseQuantity := decimal.NewFromInt(1)
	if input.BaseQuantity != nil {
		if !input.BaseQuantity.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "base_quantity must be positive")
		}
		baseQuantity = *input.BaseQuantity
	}

	return &models.Product{
		SKU:              sku,
		Name:             name,
		Description:      input.Description,
		Type:             productType,
		IsActive:         input.IsActive == nil || *input.IsActive,
		BaseUnit:         baseUnit,
		BaseQuantity:     baseQuantity,
		VintageYear:      input.VintageYear,
		VolumeL:          input.VolumeL,
		AlcoholPct:       input.AlcoholPct,
		GlassesPerBottle: input.GlassesPerBottle,
		WeightG:          input.WeightG,
		CaloriesPer100g:  input.CaloriesPer100g,
		HasPit:           input.HasPit,
	}, nil
}

func typed(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
