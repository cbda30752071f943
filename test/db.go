package test

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/repos"
)

// NewFileBasedTestDB creates a migrated file-based SQLite database for testing.
// It returns the database connection and the path to the temporary directory.
func NewFileBasedTestDB() (*gorm.DB, string, error) {
	tmpDir, err := os.MkdirTemp("", "servicegrid_test")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	dbPath := filepath.Join(tmpDir, "servicegrid_test.db")
	conn, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps SQLite writes serialized
	if sqlDB, err := conn.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.Migrate(conn); err != nil {
		CleanupTestDB(conn, tmpDir)
		return nil, "", fmt.Errorf("failed to run migrations: %w", err)
	}
	return conn, tmpDir, nil
}

// CleanupTestDB closes the database connection and removes the temporary directory.
func CleanupTestDB(conn *gorm.DB, tmpDir string) {
	sqlDB, err := conn.DB()
	if err == nil && sqlDB != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			fmt.Printf("Error closing database connection: %v\n", closeErr)
		}
	}
	if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
		fmt.Printf("Error removing temporary directory: %v\n", rmErr)
	}
}

// SetupTestDB gives the suite a fresh database and the store on top of it
func SetupTestDB(suite *Suite) {
	conn, tmpDir, err := NewFileBasedTestDB()
	suite.Require().NoError(err, "Failed to create file-based database")
	suite.DB = conn
	suite.Store = repos.NewStore(conn)
	suite.tmpDir = tmpDir
}
