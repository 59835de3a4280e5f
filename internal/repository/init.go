package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/models"
)

type Repositories struct {
	ListenerStateRepository interfaces.ListenerStateRepository
	MessageLogRepository    interfaces.MessageLogRepository
}

func InitRepositories(mailflowDB *gorm.DB) *Repositories {
	return &Repositories{
		ListenerStateRepository: NewListenerStateRepository(mailflowDB),
		MessageLogRepository:    NewMessageLogRepository(mailflowDB),
	}
}

func MigrateMailflowDB(dbConfig *config.MailflowDatabaseConfig, mailflowDB *gorm.DB) error {
	db, err := mailflowDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = mailflowDB.AutoMigrate(
		&models.ListenerState{},
		&models.MessageLog{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
