package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"inkwell/api/analytics"
	"inkwell/api/config"
	"inkwell/api/database"
	"inkwell/api/handlers"
	"inkwell/api/middleware"
	"inkwell/api/ratelimit"
	"inkwell/api/store"
	"inkwell/api/utils"
)

// rawEventRetention mirrors the ClickHouse table TTL; read-state rows whose
// backing events have aged out are pruned against the same window.
const rawEventRetention = 60 * 24 * time.Hour

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	cfg := config.Load()

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET_KEY is required in production")
	}

	// --- Datastores ---
	dbClient, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	chClient, err := database.NewClickHouseDB(database.ClickHouseOptions{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	})
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelMigrate()
	if err := dbClient.Migrate(migrateCtx); err != nil {
		log.Fatalf("Failed to migrate PostgreSQL schema: %v", err)
	}
	if err := chClient.EnsureSchema(migrateCtx); err != nil {
		log.Fatalf("Failed to ensure ClickHouse schema: %v", err)
	}

	// Redis is optional; without it rate limiting degrades to per-instance.
	redisClient, err := database.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Printf("Redis unavailable, continuing with in-process rate limiting: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// --- Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	settingsStore := store.NewSettingsStore(dbClient.DB)
	eventStore := store.NewEventStore(chClient)
	readStateStore := store.NewReadStateStore(dbClient.DB)
	rollupStore := store.NewRollupStore(dbClient.DB)

	// --- Analytics pipeline ---
	jwtManager := utils.NewJWTManager(cfg.JWTSecret, "inkwell-api", 24*time.Hour)
	sessions := analytics.NewSessionManager(cfg.AnalyticsSalt, cfg.SessionCookieName, cfg.SessionMaxAge, cfg.IsProduction())
	filter := &analytics.Filter{
		AllowedOrigins: cfg.AllowedOrigins,
		IsAdmin: func(r *http.Request) bool {
			return middleware.IsAdminRequest(jwtManager, r)
		},
	}
	normalizer := analytics.NewNormalizer(analytics.NormalizerConfig{
		ReadProgressSampleRate: cfg.ReadProgressSample,
		MaxEventsPerRequest:    cfg.MaxEventsPerRequest,
		MaxEventBytes:          cfg.MaxEventBytes,
	})
	flagCache := analytics.NewFlagCache(60*time.Second, settingsStore.AnalyticsEnabled)
	limiter := ratelimit.New(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
	reconciler := analytics.NewReconciler(readStateStore)
	rollupEngine := analytics.NewEngine(eventStore, readStateStore, rollupStore)

	// --- Handlers ---
	authHandlers := handlers.NewAuthHandlers(userStore, jwtManager, cfg.IsProduction())
	ingestHandlers := handlers.NewIngestHandlers(eventStore, reconciler, limiter, sessions, filter, normalizer, flagCache)
	rollupHandlers := handlers.NewRollupHandlers(rollupEngine, cfg.RollupSecret, cfg.IsProduction(), cfg.RollupLookbackDays)
	statsHandlers := handlers.NewStatsHandlers(rollupStore)

	r := gin.Default()
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Analytics ingestion (anonymous)
		api.GET("/session", ingestHandlers.Session)
		api.POST("/collect", ingestHandlers.Collect)

		// Rollup trigger (bearer shared secret, not JWT)
		api.POST("/rollups/refresh", rollupHandlers.Refresh)

		// Admin authentication
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Dashboard reads (JWT)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(jwtManager))
		{
			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/pages", statsHandlers.GetTopPages)
				statsGroup.GET("/referrers", statsHandlers.GetReferrers)
				statsGroup.GET("/devices", statsHandlers.GetDevices)
			}
		}
	}

	// --- Scheduled jobs ---
	scheduler := cron.New()

	// Nightly rollup over the lookback window, same code path as the
	// manual trigger.
	_, err = scheduler.AddFunc("20 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		to := analytics.DayStart(time.Now())
		from := to.AddDate(0, 0, -(cfg.RollupLookbackDays - 1))
		if err := rollupEngine.Refresh(ctx, from, to); err != nil {
			log.Printf("Scheduled rollup refresh failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule rollup job: %v", err)
	}

	// Nightly read-state prune against the raw retention window.
	_, err = scheduler.AddFunc("0 1 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		deleted, err := readStateStore.PruneOlderThan(ctx, time.Now().UTC().Add(-rawEventRetention))
		if err != nil {
			log.Printf("Read-state prune failed: %v", err)
			return
		}
		if deleted > 0 {
			log.Printf("Pruned %d expired read-state rows", deleted)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule read-state prune job: %v", err)
	}

	scheduler.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Inkwell analytics API starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cronCtx := scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	// Let an in-flight rollup finish before the datastores close.
	select {
	case <-cronCtx.Done():
	case <-time.After(cfg.ShutdownTimeout):
	}

	log.Println("Server exiting.")
}
