package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/instantpay/instantpay/internal/account"
	"github.com/instantpay/instantpay/internal/auth"
	"github.com/instantpay/instantpay/internal/config"
	"github.com/instantpay/instantpay/internal/identity"
	"github.com/instantpay/instantpay/internal/middleware"
	"github.com/instantpay/instantpay/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes. Storage
// backends are constructed in main so the outbox dispatcher can share them.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Ledger   transfer.Ledger
	Accounts account.Repository
	Users    identity.Repository
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Ledger == nil {
		return fmt.Errorf("transfer ledger is required")
	}
	if d.Accounts == nil || d.Users == nil {
		return fmt.Errorf("account and user repositories are required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	identitySvc := identity.NewService(d.Users)
	authSvc := auth.NewService(d.Cfg)
	authHandler := auth.NewHandler(identitySvc, authSvc)

	transferSvc := transfer.NewService(d.Ledger, d.Logger)
	transferHandler := transfer.NewHandler(transferSvc)
	accountHandler := account.NewHandler(d.Accounts)

	api := app.Group("/api/v1")

	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, 5))

	jwtmw := middleware.JWTAuth(d.Cfg)
	protected := api.Group("", jwtmw)

	RegisterAccountRoutes(protected, accountHandler)

	// The duplicate-request fast path guards only the transfer endpoint; the
	// unique idempotency-key index is the binding check underneath.
	transfers := protected.Group("")
	if d.Cache != nil {
		transfers.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterTransferRoutes(transfers, transferHandler)

	return nil
}
