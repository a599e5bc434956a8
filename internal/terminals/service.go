package terminals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/audit"
	"github.com/angelmondragon/stockledger-backend/pkg/db"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/security"
)

// LocationFinder resolves the location a terminal is installed at.
type LocationFinder interface {
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
}

// Service registers terminals and tracks their liveness.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Registration, error)
	GetByCode(ctx context.Context, code string) (*models.Terminal, error)
	TouchHeartbeat(ctx context.Context, id uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool, actor audit.Actor) error
}

type CreateInput struct {
	Code       string      `json:"code" validate:"required,max=50"`
	Name       string      `json:"name" validate:"required,max=255"`
	LocationID uuid.UUID   `json:"location_id" validate:"required"`
	Actor      audit.Actor `json:"-"`
}

// Registration is returned once at creation; the secret is not retrievable later.
type Registration struct {
	Terminal  models.Terminal `json:"terminal"`
	SecretKey string          `json:"secret_key"`
}

type ServiceParams struct {
	Repo      Repository
	Locations LocationFinder
	Recorder  audit.Recorder
	Now       func() time.Time
	// NewSecret overrides secret generation in tests.
	NewSecret func() (string, error)
}

type service struct {
	repo      Repository
	locations LocationFinder
	recorder  audit.Recorder
	now       func() time.Time
	newSecret func() (string, error)
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("terminal repository required")
	}
	if params.Locations == nil {
		return nil, fmt.Errorf("location finder required")
	}
	if params.Recorder == nil {
		params.Recorder = audit.Nop{}
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.NewSecret == nil {
		params.NewSecret = security.GenerateSecret
	}
	return &service{
		repo:      params.Repo,
		locations: params.Locations,
		recorder:  params.Recorder,
		now:       params.Now,
		newSecret: params.NewSecret,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*Registration, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" || input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code, name and location_id are required")
	}
	if _, err := s.locations.GetLocation(ctx, input.LocationID); err != nil {
		return nil, err
	}

	secret, err := s.newSecret()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate terminal secret")
	}
	terminal := &models.Terminal{
		Code:       code,
		Name:       name,
		LocationID: input.LocationID,
		SecretKey:  secret,
		IsActive:   true,
	}
	if err := s.repo.Create(ctx, terminal); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "terminal code already exists").
				WithDetails(map[string]any{"code": code})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create terminal")
	}

	s.recorder.Record(ctx, audit.Entry{
		Entity:    enums.AggregateTerminal,
		EntityID:  terminal.ID,
		Operation: enums.AuditOperationCreate,
		New:       terminal,
		Actor:     input.Actor,
	})
	return &Registration{Terminal: *terminal, SecretKey: secret}, nil
}

// GetByCode returns the terminal including its secret. Callers must not
// serialize SecretKey; the model already hides it from JSON.
func (s *service) GetByCode(ctx context.Context, code string) (*models.Terminal, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal code is required")
	}
	terminal, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load terminal")
	}
	if terminal == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "terminal not found").
			WithDetails(map[string]any{"code": code})
	}
	return terminal, nil
}

func (s *service) TouchHeartbeat(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.TouchHeartbeat(ctx, id, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update terminal heartbeat")
	}
	return nil
}

func (s *service) SetActive(ctx context.Context, id uuid.UUID, active bool, actor audit.Actor) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "terminal not found").
				WithDetails(map[string]any{"terminal_id": id.String()})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update terminal")
	}
	s.recorder.Record(ctx, audit.Entry{
		Entity:    enums.AggregateTerminal,
		EntityID:  id,
		Operation: enums.AuditOperationUpdate,
		New:       map[string]any{"is_active": active},
		Actor:     actor,
	})
	return nil
}
