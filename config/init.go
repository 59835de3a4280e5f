package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
)

type Config struct {
	AppConfig              *AppConfig
	Logger                 *logger.Config
	Tracing                *tracing.JaegerConfig
	MailflowDatabaseConfig *MailflowDatabaseConfig
	RedisConfig            *RedisConfig
	DirectoryConfig        *DirectoryConfig
	LlmConfig              *LlmConfig
	RagConfig              *RagConfig
	MailboxConfig          *MailboxConfig
	ArchiveConfig          *ArchiveConfig
	CronConfig             *CronConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:              &AppConfig{},
		Logger:                 &logger.Config{},
		Tracing:                &tracing.JaegerConfig{},
		MailflowDatabaseConfig: &MailflowDatabaseConfig{},
		RedisConfig:            &RedisConfig{},
		DirectoryConfig:        &DirectoryConfig{},
		LlmConfig:              &LlmConfig{},
		RagConfig:              &RagConfig{},
		MailboxConfig:          &MailboxConfig{},
		ArchiveConfig:          &ArchiveConfig{},
		CronConfig:             &CronConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailflow config: %v", err)
	}

	return config, nil
}
