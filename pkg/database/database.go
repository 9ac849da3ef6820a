package database

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres connection pool used by every store.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	pgConfig := postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // avoids prepared statement clashes behind pgbouncer
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		PrepareStmt:    false,
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.New(pgConfig), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info("Database connected successfully!")
	return db, nil
}

func MigrateDatabase(db *gorm.DB, models ...interface{}) error {
	for _, model := range models {
		if !db.Migrator().HasTable(model) {
			if err := db.Migrator().CreateTable(model); err != nil {
				return err
			}
			log.Infof("Created table for %T", model)
		} else {
			if err := db.Migrator().AutoMigrate(model); err != nil {
				return err
			}
			log.Infof("Updated table for %T", model)
		}
	}
	return nil
}
