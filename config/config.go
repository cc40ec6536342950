package config

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"docstate/pkg/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const (
	defaultLockTimeoutSeconds = 60
	defaultPerPage            = 100
)

// Config holds the runtime settings the document core reads from the
// environment. Schema/resource definitions are supplied by the embedding
// application, not loaded here.
type Config struct {
	DatabaseURL        string
	LockTimeoutSeconds int64
	PerPage            int64
}

// Load reads a .env file when present and falls back to OS environment
// variables, the same way the backend always has.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	dbUser := strings.TrimSpace(os.Getenv("user"))
	dbPass := strings.TrimSpace(os.Getenv("password"))
	dbHost := strings.TrimSpace(os.Getenv("host"))
	dbPort := strings.TrimSpace(os.Getenv("port"))
	dbName := strings.TrimSpace(os.Getenv("dbname"))

	cfg := Config{
		DatabaseURL:        fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=require", dbUser, dbPass, dbHost, dbPort, dbName),
		LockTimeoutSeconds: defaultLockTimeoutSeconds,
		PerPage:            defaultPerPage,
	}
	if v := strings.TrimSpace(os.Getenv("lock_timeout_seconds")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.LockTimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("per_page")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.PerPage = n
		}
	}
	return cfg
}

// Connect opens the PostgreSQL connection and pings it with a retry loop
// to ride out temporary DNS/network blips.
func Connect(cfg Config) *sql.DB {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Sugar.Fatalf("Failed to open database connection: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	logger.Sugar.Fatal("Could not connect to database after retries.")
	return nil
}
