package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProviderLimitConfig bounds outbound calls to one provider
type ProviderLimitConfig struct {
	Provider string
	MaxCalls int
	Window   time.Duration
}

// RefreshConfig holds the typed settings for the refresh engine,
// validated once at startup and passed by value into constructors.
type RefreshConfig struct {
	ScheduleTime   string        // "HH:MM" boundary for the nightly batch
	LiveMaxAge     time.Duration // staleness bound for live quotes
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AcquireTimeout time.Duration
	ProviderLimits []ProviderLimitConfig
}

// Config holds all application settings
type Config struct {
	Port          string
	DBDriver      string // postgres or sqlite
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	SQLitePath    string
	JWTSecret     string
	MongoURI      string
	Environment   string
	AdminUsername string
	AdminPassword string
	Refresh       RefreshConfig
}

// LoadConfig loads environment variables into a validated Config
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBDriver:      getEnv("DB_DRIVER", "postgres"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DBName:        getEnv("DB_NAME", "stock_data"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/stock_data.db"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me-in-production"),
		MongoURI:      getEnv("MONGODB_URI", ""),
		Environment:   getEnv("ENVIRONMENT", "development"),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		Refresh: RefreshConfig{
			ScheduleTime:   getEnv("REFRESH_SCHEDULE_TIME", "01:00"),
			LiveMaxAge:     getEnvDuration("REFRESH_LIVE_MAX_AGE", time.Minute),
			MaxRetries:     getEnvInt("REFRESH_MAX_RETRIES", 3),
			InitialDelay:   getEnvDuration("REFRESH_INITIAL_DELAY", time.Second),
			MaxDelay:       getEnvDuration("REFRESH_MAX_DELAY", 30*time.Second),
			Multiplier:     getEnvFloat("REFRESH_BACKOFF_MULTIPLIER", 2.0),
			AcquireTimeout: getEnvDuration("REFRESH_ACQUIRE_TIMEOUT", 30*time.Second),
			ProviderLimits: []ProviderLimitConfig{
				{
					Provider: "vndirect",
					MaxCalls: getEnvInt("VNDIRECT_MAX_CALLS", 60),
					Window:   getEnvDuration("VNDIRECT_WINDOW", time.Minute),
				},
				{
					Provider: "ssi",
					MaxCalls: getEnvInt("SSI_MAX_CALLS", 120),
					Window:   getEnvDuration("SSI_WINDOW", time.Minute),
				},
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects settings the refresh engine cannot run with
func (c *Config) validate() error {
	if _, err := time.Parse("15:04", c.Refresh.ScheduleTime); err != nil {
		return fmt.Errorf("invalid REFRESH_SCHEDULE_TIME %q: %w", c.Refresh.ScheduleTime, err)
	}
	if c.Refresh.MaxRetries < 0 {
		return fmt.Errorf("REFRESH_MAX_RETRIES must not be negative")
	}
	if c.Refresh.Multiplier < 1 {
		return fmt.Errorf("REFRESH_BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.Refresh.InitialDelay <= 0 || c.Refresh.MaxDelay < c.Refresh.InitialDelay {
		return fmt.Errorf("invalid backoff delays: initial=%v max=%v",
			c.Refresh.InitialDelay, c.Refresh.MaxDelay)
	}
	for _, limit := range c.Refresh.ProviderLimits {
		if limit.MaxCalls <= 0 || limit.Window <= 0 {
			return fmt.Errorf("invalid rate limit for provider %s", limit.Provider)
		}
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// InitDB opens the database connection for the configured driver
func InitDB(cfg *Config) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	if cfg.DBDriver == "sqlite" {
		log.Printf("Connecting to sqlite database: %s", cfg.SQLitePath)
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	}

	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(cfg.DBHost), cfg.DBPort, cfg.DBUser, cfg.DBName)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=Asia/Ho_Chi_Minh",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
	)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s, using default %d", key, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid float for %s, using default %g", key, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s, using default %v", key, defaultValue)
		return defaultValue
	}
	return parsed
}
