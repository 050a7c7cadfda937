package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/claimcheck/backend/internal/config"
	"github.com/claimcheck/backend/internal/logger"
)

// Connect opens the postgres connection pool the job store runs on.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("Database connected successfully", nil)
	return gdb, nil
}

// EnsureDatabase creates the configured database if it does not exist yet.
// It connects to the server's maintenance database through lib/pq.
func EnsureDatabase(cfg config.DBConfig) error {
	admin := cfg
	admin.Name = "postgres"

	conn, err := sql.Open("postgres", admin.DSN())
	if err != nil {
		return fmt.Errorf("failed to open maintenance connection: %w", err)
	}
	defer conn.Close()

	var exists bool
	if err := conn.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check for database %s: %w", cfg.Name, err)
	}
	if exists {
		return nil
	}

	if _, err := conn.Exec("CREATE DATABASE " + pq.QuoteIdentifier(cfg.Name)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.Name, err)
	}
	logger.Info("Created database", map[string]interface{}{"database": cfg.Name})
	return nil
}
