package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/buttonbid-backend/api/controllers"
	"github.com/angelmondragon/buttonbid-backend/api/middleware"
	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/issuance"
	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/internal/notifications"
	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/buttonbid-backend/pkg/redis"
)

// Cache is the Redis surface the HTTP layer needs for idempotency and rate
// limiting.
type Cache interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Settler covers the settlement entry points exposed over HTTP.
type Settler interface {
	controllers.LazySettler
	controllers.SettlementRunner
}

// Dependencies carries every collaborator the router wires into handlers.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Cache         Cache
	HealthChecks  map[string]controllers.Pinger
	Ledger        ledger.Service
	Issuance      issuance.Service
	Auctions      auctions.Service
	Bids          controllers.BidPlacer
	Settlement    Settler
	Notifications notifications.Service
	DeadLetters   controllers.DeadLetters
	Metrics       http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins...),
	)

	bidPolicy := middleware.NewRateLimitPolicy(
		"bids",
		cfg.RateLimit.BidWindow,
		cfg.RateLimit.BidIPLimit,
		cfg.RateLimit.BidUserLimit,
	)
	var lazy controllers.LazySettler
	if cfg.FeatureFlags.AllowLazySettlement && deps.Settlement != nil {
		lazy = deps.Settlement
	}

	bidLimit := middleware.RateLimit(bidPolicy, deps.Cache, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.HealthChecks))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(deps.Cache, logg))

		r.Get("/balance", controllers.GetBalance(deps.Ledger, logg))
		r.Post("/accounts", controllers.OpenAccount(deps.Issuance, cfg.Auctions.InitialGrantButtons, logg))
		r.Get("/ledger/entries", controllers.ListLedgerEntries(deps.Ledger, logg))
		r.Get("/dashboard", controllers.Dashboard(deps.Auctions, logg))

		r.Route("/auctions", func(r chi.Router) {
			r.Get("/", controllers.ListActiveAuctions(deps.Auctions, logg))

			r.Route("/clothing", func(r chi.Router) {
				r.Post("/", controllers.CreateClothingListing(deps.Auctions, logg))
				r.Get("/{auctionID}", controllers.GetAuction(enums.AuctionKindClothing, deps.Auctions, lazy, logg))
				r.With(bidLimit).Post("/{auctionID}/bids", controllers.PlaceClothingBid(deps.Bids, logg))
				r.Post("/{auctionID}/cancel", controllers.CancelListing(enums.AuctionKindClothing, deps.Auctions, logg))
			})

			r.Route("/resale", func(r chi.Router) {
				r.Post("/", controllers.CreateResaleListing(deps.Auctions, logg))
				r.Get("/{auctionID}", controllers.GetAuction(enums.AuctionKindResale, deps.Auctions, lazy, logg))
				r.With(bidLimit).Post("/{auctionID}/bids", controllers.PlaceResaleBid(deps.Bids, logg))
				r.Post("/{auctionID}/cancel", controllers.CancelListing(enums.AuctionKindResale, deps.Auctions, logg))
			})
		})

		r.Route("/packages", func(r chi.Router) {
			r.Get("/", controllers.ListPackages(deps.Issuance, logg))
			r.Post("/{packageID}/purchase", controllers.PurchasePackage(deps.Issuance, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})

		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, middleware.RoleOps))
			r.Post("/grants", controllers.GrantButtons(deps.Issuance, logg))
			r.Post("/settlement/run", controllers.RunSettlement(deps.Settlement, logg))
			r.Get("/ledger/{userID}/reconcile", controllers.ReconcileLedger(deps.Ledger, logg))
			r.Get("/outbox/dlq", controllers.ListDeadLetters(deps.DeadLetters, logg))
			r.Post("/outbox/dlq/{eventID}/requeue", controllers.RequeueDeadLetter(deps.DeadLetters, logg))
		})
	})

	return r
}
