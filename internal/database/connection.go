// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established successfully")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.EscrowTransaction{},
		&models.EscrowDispute{},
		&models.EscrowNotification{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Escrow transaction indexes
		"CREATE INDEX IF NOT EXISTS idx_escrow_tx_buyer ON escrow_transactions(buyer_id)",
		"CREATE INDEX IF NOT EXISTS idx_escrow_tx_seller ON escrow_transactions(seller_id)",
		"CREATE INDEX IF NOT EXISTS idx_escrow_tx_order ON escrow_transactions(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_escrow_tx_status ON escrow_transactions(status)",
		// The reconciliation sweep's query path: delivered rows whose hold
		// period has elapsed.
		"CREATE INDEX IF NOT EXISTS idx_escrow_tx_sweep ON escrow_transactions(status, escrow_expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_escrow_tx_created_at ON escrow_transactions(created_at DESC)",

		// Dispute indexes
		"CREATE INDEX IF NOT EXISTS idx_escrow_disputes_status ON escrow_disputes(status)",
		"CREATE INDEX IF NOT EXISTS idx_escrow_disputes_opened_by ON escrow_disputes(opened_by)",

		// Notification indexes
		"CREATE INDEX IF NOT EXISTS idx_escrow_notifications_recipient ON escrow_notifications(recipient_id, created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).Warnf("Failed to create index: %s", index)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
