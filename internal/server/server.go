// Package server contains HTTP and WebSocket handlers for the ledger API.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"tally/internal/cache"
	"tally/internal/config"
	"tally/internal/database"
	"tally/internal/middleware"
	"tally/internal/models"
	"tally/internal/notifications"
	"tally/internal/repository"
	"tally/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config  *config.Config
	db      *gorm.DB
	redis   *redis.Client
	app     *fiber.App
	metrics *middleware.Metrics
	auth    *middleware.TokenResolver

	identityRepo   *repository.Repository[models.Identity]
	friendshipRepo *repository.Repository[models.Friendship]
	requestRepo    *repository.Repository[models.Request]
	entryRepo      *repository.Repository[models.LedgerEntry]

	identityService *service.IdentityService
	friendService   *service.FriendService
	ledgerService   *service.LedgerService

	presence *notifications.PresenceRegistry
	router   *notifications.EventRouter
}

// NewServer connects both stores and creates a server over them.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	redisClient, err := cache.NewClient(cfg.RedisURL, cfg.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if db == nil || redisClient == nil {
		return nil, fmt.Errorf("server needs both a database and a redis client")
	}

	stores := repository.NewStores(redisClient, db, repository.Options{
		StoreTimeout:  cfg.StoreTimeout,
		MirrorTimeout: cfg.MirrorTimeout,
	})

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		metrics:        middleware.InitMetrics("tally-api"),
		auth:           middleware.NewTokenResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		identityRepo:   repository.NewIdentityRepository(stores),
		friendshipRepo: repository.NewFriendshipRepository(stores),
		requestRepo:    repository.NewRequestRepository(stores),
		entryRepo:      repository.NewLedgerRepository(stores),
		presence:       notifications.NewPresenceRegistry(0),
	}

	s.identityService = service.NewIdentityService(s.identityRepo)
	s.friendService = service.NewFriendService(s.requestRepo, s.friendshipRepo, s.identityService)
	s.ledgerService = service.NewLedgerService(s.entryRepo, s.friendService, s.identityService, middleware.Logger)

	var push notifications.PushDispatcher
	if cfg.PushEndpoint != "" {
		push = notifications.NewHTTPPushDispatcher(cfg.PushEndpoint, cfg.PushAPIKey, cfg.PushTimeout)
	}
	s.router = notifications.NewEventRouter(s.presence, push, s.identityService.DeviceToken, notifications.RouterConfig{
		DedupeWindow: cfg.EventDedupeWindow,
		PushTimeout:  cfg.PushTimeout,
	})

	app := fiber.New(fiber.Config{
		AppName: "Tally API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err.Error())
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app

	return s, nil
}

// App returns the configured Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.MetricsMiddleware(s.metrics))
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS before anything that can short-circuit, so error responses
	// still carry the headers
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
	app.Use(middleware.TracingMiddleware())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/metrics", s.metrics.Handler())

	app.Post("/identities/register", middleware.RateLimit(
		s.redis, 5, 10*time.Minute, "register"), s.Register)

	protected := app.Group("", s.auth.AuthRequired())

	identities := protected.Group("/identities")
	identities.Get("/me", s.GetMyProfile)
	identities.Put("/me", s.UpdateMyProfile)
	identities.Put("/me/device-token", s.UpdateDeviceToken)

	// specific /:x/<action> routes before the bare /:counterpart
	transactions := protected.Group("/transactions")
	transactions.Post("/:counterpart/add", middleware.RateLimit(
		s.redis, 30, time.Minute, "add_transaction"), s.AddTransaction)
	transactions.Get("/:counterpart/balance", s.GetBalance)
	transactions.Post("/:entryId/accept", s.AcceptTransaction)
	transactions.Post("/:entryId/deny", s.DenyTransaction)
	transactions.Post("/:entryId/cancel", s.CancelTransaction)
	transactions.Post("/:counterpart", s.ListTransactions)

	requests := protected.Group("/friendRequests")
	requests.Get("/incoming", s.GetIncomingRequests)
	requests.Get("/outgoing", s.GetOutgoingRequests)
	requests.Post("/:username/send", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "friend_request"), s.SendFriendRequest)
	requests.Post("/:requestId/accept", s.AcceptFriendRequest)
	requests.Post("/:requestId/deny", s.DenyFriendRequest)
	requests.Post("/:requestId/cancel", s.CancelFriendRequest)

	friends := protected.Group("/friends")
	friends.Get("/", s.GetFriends)
	friends.Delete("/:username", s.RemoveFriend)

	app.Get("/ws", s.auth.AuthRequired(), upgradeRequired, s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports both stores. One store down degrades the service
// but it still serves through the other.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	primaryErr, secondaryErr := s.identityRepo.Ping(ctx)
	checks := fiber.Map{
		"primary":   storeStatus(primaryErr),
		"secondary": storeStatus(secondaryErr),
	}

	status := fiber.StatusOK
	overall := "healthy"
	switch {
	case primaryErr != nil && secondaryErr != nil:
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	case primaryErr != nil || secondaryErr != nil:
		overall = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":           overall,
		"checks":           checks,
		"live_connections": s.presence.Count(),
		"time":             time.Now(),
	})
}

func storeStatus(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// Start starts the server
func (s *Server) Start() error {
	log.Printf("Server starting on port %s...", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown closes live channels, stops the HTTP server, drains background
// mirror and push work and closes both stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.presence.Shutdown(ctx)

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		log.Printf("error shutting down HTTP server: %v", err)
	}

	s.drain()

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}
	if rerr := s.redis.Close(); rerr != nil {
		log.Printf("error closing redis: %v", rerr)
	}

	log.Println("Server shutdown complete")
	return nil
}

// drain waits for in-flight push dispatches and secondary mirror writes.
func (s *Server) drain() {
	s.router.Wait()
	s.identityRepo.Wait()
	s.friendshipRepo.Wait()
	s.requestRepo.Wait()
	s.entryRepo.Wait()
}
