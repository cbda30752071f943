// This file brings the database schema up to date without starting the server
// How to run:
// go run ./cmd/migrate                       # Migrate using DB_* env vars
// go run ./cmd/migrate -retries 10           # Wait longer for the database to come up
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/config"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnf("⚠️ Could not load .env file: %v", err)
	}
	logger.InitializeAndConfigure()

	var (
		retries   = flag.Int("retries", 5, "Number of connection retries")
		retryWait = flag.Duration("retry-wait", 3*time.Second, "Wait time between retries")
	)
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		logger.Fatalf("❌ Invalid configuration: %v", err)
	}
	if !settings.DBEnabled {
		logger.Fatal("❌ Database is disabled, nothing to migrate")
	}

	conn, err := connect(settings.DB, *retries, *retryWait)
	if err != nil {
		logger.Fatalf("❌ %v", err)
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	tables, err := conn.Migrator().GetTables()
	if err != nil {
		logger.Warnf("⚠️ Could not list tables: %v", err)
		return
	}
	logger.InfoWithFields("✅ Schema is up to date", map[string]interface{}{
		"database": settings.DB.DBName,
		"tables":   tables,
	})
}

// connect retries db.New, which migrates on every successful connection
func connect(opts db.Options, attempts int, wait time.Duration) (*gorm.DB, error) {
	var err error
	for i := 1; i <= attempts; i++ {
		var conn *gorm.DB
		conn, err = db.New(opts)
		if err == nil {
			return conn, nil
		}
		logger.Warnf("⚠️ Failed to migrate database, attempt %d/%d: %v", i, attempts, err)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to migrate database after %d attempts: %w", attempts, err)
}
