package database

import (
	"log"

	"gorm.io/gorm"

	"github.com/customeros/mailflow/config"
)

func InitMailflowDatabase(cfg *config.MailflowDatabaseConfig) (*gorm.DB, error) {
	db, err := NewConnection(&DatabaseConfig{
		DBName:          cfg.DBName,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		MaxConn:         cfg.MaxConn,
		MaxIdleConn:     cfg.MaxIdleConn,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		LogLevel:        cfg.LogLevel,
		SSLMode:         cfg.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}

	return db, nil
}
