package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/stockledger-backend/api/controllers"
	"github.com/angelmondragon/stockledger-backend/api/middleware"
	"github.com/angelmondragon/stockledger-backend/internal/catalog"
	"github.com/angelmondragon/stockledger-backend/internal/reconciliation"
	"github.com/angelmondragon/stockledger-backend/internal/sales"
	"github.com/angelmondragon/stockledger-backend/internal/stock"
	"github.com/angelmondragon/stockledger-backend/internal/terminals"
	"github.com/angelmondragon/stockledger-backend/internal/units"
	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/stockledger-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP layer uses.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.ReplayGuard
	middleware.RevocationChecker
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RouterParams groups everything the HTTP surface is wired to. Nil
// dependencies are tolerated; handlers then answer with an internal error.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger

	DB    controllers.Pinger
	Redis RedisStore

	Catalog        catalog.Service
	Stock          stock.Service
	Units          units.Service
	Sales          sales.Service
	Terminals      terminals.Service
	Reconciliation reconciliation.Service

	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
		p.HTTPMetrics.Middleware,
	)

	readiness := map[string]controllers.Pinger{}
	if p.DB != nil {
		readiness["postgres"] = p.DB
	}
	if p.Redis != nil {
		if pinger, ok := p.Redis.(controllers.Pinger); ok {
			readiness["redis"] = pinger
		}
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(p.Gatherer))

	var (
		idempotency pkgredis.IdempotencyStore
		replay      pkgredis.ReplayGuard
		revocations middleware.RevocationChecker
		limiter     rateLimiter
	)
	if p.Redis != nil {
		idempotency = p.Redis
		revocations = p.Redis
		limiter = p.Redis
		if cfg.Terminal.ReplayGuard {
			replay = p.Redis
		}
	}

	r.Route("/api/v1/terminal", func(r chi.Router) {
		r.Use(middleware.RateLimit(
			middleware.NewRateLimitPolicy("terminal", time.Minute, 0, cfg.Terminal.RateLimitPerMinute),
			limiter,
			logg,
		))
		r.Use(middleware.TerminalAuth(middleware.TerminalAuthParams{
			Terminals: p.Terminals,
			Replay:    replay,
			Window:    cfg.Terminal.TimeWindow(),
			Logger:    logg,
		}))
		r.Post("/sales", controllers.TerminalSale(p.Sales, logg))
		r.Post("/reconcile", controllers.TerminalReconcile(p.Reconciliation, logg))
	})

	idem := func(policy middleware.IdempotencyPolicy) func(http.Handler) http.Handler {
		return middleware.Idempotent(idempotency, policy, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, revocations, logg))

		r.Route("/sales", func(r chi.Router) {
			r.With(middleware.RequirePermission("sales", "write"), idem(middleware.IdempotencySales)).Post("/", controllers.CreateSale(p.Sales, logg))
			r.With(middleware.RequirePermission("sales", "read")).Get("/pending", controllers.ListPendingSales(p.Sales, logg))
			r.With(middleware.RequirePermission("sales", "read")).Get("/{transactionId}", controllers.GetSale(p.Sales, logg))
			r.With(middleware.RequirePermission("sales", "write"), idem(middleware.IdempotencySales)).Post("/{transactionId}/confirm", controllers.ConfirmSale(p.Sales, logg))
			r.With(middleware.RequirePermission("sales", "write"), idem(middleware.IdempotencySales)).Post("/{transactionId}/cancel", controllers.CancelSale(p.Sales, logg))
		})

		r.Route("/stock/{productId}/{locationId}", func(r chi.Router) {
			r.With(middleware.RequirePermission("stock", "read")).Get("/", controllers.GetStock(p.Stock, logg))
			r.With(middleware.RequirePermission("stock", "write"), idem(middleware.IdempotencyOptional)).Put("/", controllers.DeclareStock(p.Stock, logg))
			r.With(middleware.RequirePermission("stock", "write"), idem(middleware.IdempotencyRequired)).Post("/reserve", controllers.ReserveStock(p.Stock, logg))
			r.With(middleware.RequirePermission("stock", "write"), idem(middleware.IdempotencyRequired)).Post("/release", controllers.ReleaseStock(p.Stock, logg))
		})

		r.With(middleware.RequirePermission("product", "write"), idem(middleware.IdempotencyOptional)).Post("/conversions", controllers.UpsertConversion(p.Units, logg))

		r.Route("/products", func(r chi.Router) {
			r.With(middleware.RequirePermission("product", "write"), idem(middleware.IdempotencyOptional)).Post("/", controllers.CreateProduct(p.Catalog, logg))
			r.Route("/{productId}", func(r chi.Router) {
				r.With(middleware.RequirePermission("product", "read")).Get("/", controllers.GetProduct(p.Catalog, logg))
				r.With(middleware.RequirePermission("product", "write")).Put("/components", controllers.SetProductComponents(p.Catalog, logg))
				r.With(middleware.RequirePermission("product", "read")).Get("/conversions", controllers.ListConversions(p.Units, logg))
				r.With(middleware.RequirePermission("product", "read")).Post("/convert", controllers.ConvertQuantity(p.Units, logg))
			})
		})

		r.Route("/locations", func(r chi.Router) {
			r.With(middleware.RequirePermission("location", "write"), idem(middleware.IdempotencyOptional)).Post("/", controllers.CreateLocation(p.Catalog, logg))
			r.With(middleware.RequirePermission("stock", "read")).Get("/{locationId}/catalog", controllers.LocationCatalog(p.Catalog, logg))
		})

		r.Route("/terminals", func(r chi.Router) {
			r.With(middleware.RequirePermission("terminal", "write"), idem(middleware.IdempotencyOptional)).Post("/", controllers.CreateTerminal(p.Terminals, logg))
			r.With(middleware.RequirePermission("terminal", "read")).Get("/{code}", controllers.GetTerminal(p.Terminals, logg))
			r.With(middleware.RequirePermission("terminal", "write")).Put("/{code}/active", controllers.SetTerminalActive(p.Terminals, logg))
		})

		r.Route("/reconciliations", func(r chi.Router) {
			r.With(middleware.RequirePermission("reconciliation", "read")).Get("/", controllers.ListReconciliations(p.Reconciliation, logg))
			r.With(middleware.RequirePermission("reconciliation", "read")).Get("/{logId}", controllers.GetReconciliation(p.Reconciliation, logg))
		})
	})

	return r
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}
