package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stock_data_backend/config"
	"stock_data_backend/models"
	"stock_data_backend/routes"
	"stock_data_backend/scheduler"
	"stock_data_backend/services/backup"
	"stock_data_backend/services/providers"
	"stock_data_backend/services/ratelimit"
	"stock_data_backend/services/recovery"
	"stock_data_backend/services/refresh"
	"stock_data_backend/services/stream"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// dbInitialized tracks whether database has been successfully initialized
// so the /ready endpoint can report readiness from the init goroutine
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Stock Data Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up while the database initializes in the background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so the platform knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, services and routes in background
	var jobScheduler *scheduler.Scheduler
	var mirror *backup.MongoMirror
	go func() {
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		// Run database migrations
		log.Println("Running database migrations...")
		if err := runMigrations(db); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Seed default admin user
		if err := models.SeedDefaultAdminUser(db, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Printf("Warning: Could not seed admin user: %v", err)
		}

		// Strategy set shared by the manager and the scheduler
		strategies, err := refresh.NewStrategySet(cfg.Refresh.ScheduleTime, refresh.DefaultPeriodicIntervals(), cfg.Refresh.LiveMaxAge)
		if err != nil {
			log.Printf("ERROR: Invalid refresh schedule config: %v", err)
			return
		}

		// Per-provider rate limiters
		limiters := ratelimit.NewRegistry()
		for _, pl := range cfg.Refresh.ProviderLimits {
			limiters.Register(pl.Provider, pl.MaxCalls, pl.Window)
		}

		// Provider clients
		registry := providers.DefaultRegistry(providers.NewVNDirectClient(), providers.NewSSIClient())

		// Live quote stream
		hub := stream.NewHub()

		// Optional MongoDB price mirror
		var priceMirror refresh.PriceMirror
		if cfg.MongoURI != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			mirror, err = backup.NewMongoMirror(ctx, cfg.MongoURI)
			cancel()
			if err != nil {
				log.Printf("MongoDB mirror not available: %v", err)
			} else {
				priceMirror = mirror
				log.Println("MongoDB price mirror connected")
			}
		}

		dlq := recovery.NewDeadLetterQueue(db)

		manager := refresh.NewManager(refresh.Deps{
			DB:          db,
			Strategies:  strategies,
			Limiters:    limiters,
			Retry: refresh.RetryPolicy{
				MaxRetries:   cfg.Refresh.MaxRetries,
				InitialDelay: cfg.Refresh.InitialDelay,
				MaxDelay:     cfg.Refresh.MaxDelay,
				Multiplier:   cfg.Refresh.Multiplier,
			},
			Checkpoints:    recovery.NewCheckpointStore(db),
			DLQ:            dlq,
			Providers:      registry,
			Broadcaster:    hub,
			Mirror:         priceMirror,
			AcquireTimeout: cfg.Refresh.AcquireTimeout,
		})

		// Start background scheduler
		jobScheduler = scheduler.NewScheduler(manager, cfg.Refresh)
		jobScheduler.Start()

		// Setup all API routes
		routes.SetupRoutes(router, routes.Deps{
			DB:        db,
			Manager:   manager,
			DLQ:       dlq,
			Limiters:  limiters,
			Hub:       hub,
			Scheduler: jobScheduler,
			JWTSecret: cfg.JWTSecret,
		})

		// Mark database as ready
		dbInitMutex.Lock()
		dbInitialized = true
		dbInitMutex.Unlock()

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if jobScheduler != nil {
		jobScheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if mirror != nil {
		if err := mirror.Close(ctx); err != nil {
			log.Printf("Mongo mirror close failed: %v", err)
		}
	}

	log.Println("Server exited")
}

// runMigrations runs all database migrations
func runMigrations(db *gorm.DB) error {
	if err := models.MigrateStockModels(db); err != nil {
		return err
	}
	if err := models.MigrateRefreshModels(db); err != nil {
		return err
	}
	if err := models.MigrateAdminModels(db); err != nil {
		return err
	}
	return nil
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Stock Data Backend API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": "database initializing",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger logs each request with latency and status
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("%s %s %d %v", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}
