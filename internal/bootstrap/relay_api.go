package bootstrap

import (
	"time"

	"relay_server/adapter/in/http"
	"relay_server/config"
	"relay_server/infra/middleware"
	"relay_server/pkg/cache"
	"relay_server/pkg/logger"
	"relay_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI assembles the fiber app over an already-built dependency graph.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
		ServerHeader:          "",
		DisableDefaultDate:    true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// The dashboard frontend is served from APP_URL; without one, stay
	// permissive but credential-free.
	allowOrigins := cfg.AppURL
	allowCredentials := true
	if allowOrigins == "" {
		allowOrigins = "*"
		allowCredentials = false
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// Public routes: login, and the signed quick-action links clicked
	// from forwarded emails.
	public := app.Group("/api")

	var loginCache *cache.RedisCache
	if deps.Redis != nil {
		loginCache = cache.NewRedisCache(deps.Redis)
	}
	loginLimiter := ratelimit.NewFixedWindowLimiter(loginCache, 10, 15*time.Minute)
	public.Use("/auth", middleware.LoginRateLimit(loginLimiter))

	authHandler := http.NewAuthHandler(cfg.DashboardPassword, cfg.JWTSecret)
	authHandler.Register(public)

	actionHandler := http.NewActionHandler(deps.Signer, deps.CommandService, deps.RuleSource)
	actionHandler.Register(public)

	// Dashboard routes (JWT required)
	api := app.Group("/api")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	ruleHandler := http.NewRuleHandler(deps.RuleRepo, deps.CategoryRepo, deps.RuleSource)
	ruleHandler.Register(api)

	prefHandler := http.NewPreferenceHandler(deps.PrefRepo, deps.RuleSource)
	prefHandler.Register(api)

	historyHandler := http.NewHistoryHandler(deps.EmailRepo, deps.Workflow, deps.Learner, deps.RuleSource)
	historyHandler.Register(api)

	runHandler := http.NewRunHandler(deps.RunRepo, deps.Scheduler)
	runHandler.Register(api)

	if deps.Learner != nil {
		candidateHandler := http.NewCandidateHandler(deps.CandidateRepo, deps.Learner, deps.RuleSource)
		candidateHandler.Register(api)
	}

	logger.Info("API server initialized")
	return app
}
