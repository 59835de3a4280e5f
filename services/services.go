package services

import (
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/config"
	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/caches"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/repository"
	"github.com/customeros/mailflow/internal/utils"
	"github.com/customeros/mailflow/services/directory"
	"github.com/customeros/mailflow/services/events"
	"github.com/customeros/mailflow/services/imap"
	"github.com/customeros/mailflow/services/llm"
	"github.com/customeros/mailflow/services/mailbox"
	"github.com/customeros/mailflow/services/message"
	"github.com/customeros/mailflow/services/rag"
	"github.com/customeros/mailflow/services/smtp"
	"github.com/customeros/mailflow/services/storage"
)

type Services struct {
	Cache               *caches.MessageConfigCache
	EventsService       *events.EventsService
	Directory           interfaces.DirectoryService
	Archive             interfaces.MessageArchive
	Reporter            *mailbox.ErrorReporter
	Pipeline            *message.Pipeline
	Orchestrator        *mailbox.Orchestrator
	NotificationService interfaces.NotificationService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	decrypter, err := newDecrypter(cfg.AppConfig.EncryptionKey, log)
	if err != nil {
		return nil, err
	}

	var (
		eventsService *events.EventsService
		publisher     interfaces.EventPublisher
	)
	if cfg.AppConfig.RabbitMQURL != "" {
		publisherConfig := &events.PublisherConfig{
			MessageTTL:          events.DefaultMessageTTL,
			MaxRetries:          events.DefaultMaxRetries,
			PublishTimeout:      events.DefaultPublishTimeout,
			ReconnectBackoff:    events.DefaultReconnectBackoff,
			MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
		}
		subscriberConfig := &events.SubscriberConfig{
			MaxRetries:          events.DefaultMaxRetries,
			ReconnectBackoff:    events.DefaultReconnectBackoff,
			MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
		}
		eventsService, err = events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, publisherConfig, subscriberConfig)
		if err != nil {
			return nil, errors.Wrap(err, "failed to init events service")
		}
		publisher = eventsService.Publisher
	} else {
		log.Warn("RABBITMQ_URL not set, escalations are only logged and notifications come over REST only")
	}

	redisCfg := cfg.RedisConfig
	cache := caches.NewMessageConfigCache(log, caches.NewRedisClient(redisCfg.Addr, redisCfg.Password, redisCfg.DB), redisCfg.TTL)
	directoryService := directory.NewDirectoryService(cfg.DirectoryConfig)
	archive := storage.NewR2ArchiveService(cfg.ArchiveConfig, log)
	reporter := mailbox.NewErrorReporter(log, publisher)

	pipeline := message.NewPipeline(message.Dependencies{
		Directory:  directoryService,
		Llm:        llm.NewLlmService(cfg.LlmConfig),
		Rag:        rag.NewRagService(cfg.RagConfig),
		Cache:      cache,
		Reporter:   reporter,
		Decrypter:  decrypter,
		Archive:    archive,
		MessageLog: repos.MessageLogRepository,
	}, log, cfg.MailboxConfig.SmtpRetryDelay)

	mailboxCfg := cfg.MailboxConfig
	orchestrator := mailbox.NewOrchestrator(mailbox.OrchestratorConfig{
		Listener: imap.ListenerConfig{
			RestartDelay:     mailboxCfg.RestartDelay,
			ReadinessTimeout: mailboxCfg.ReadinessTimeout,
			QueueSize:        mailboxCfg.QueueSize,
		},
		Retry: mailbox.RetryConfig{
			MaxRetries: mailboxCfg.MaxRetries,
			Base:       mailboxCfg.RetryBase,
		},
		StopTimeout: mailboxCfg.StopTimeout,
	}, mailbox.OrchestratorDeps{
		Directory: directoryService,
		Connector: imap.NewConnectionBuilder(log, decrypter, smtp.Dial),
		Handler:   pipeline.Handle,
		Reporter:  reporter,
		Cache:     cache,
		States:    repos.ListenerStateRepository,
	}, log)

	return &Services{
		Cache:               cache,
		EventsService:       eventsService,
		Directory:           directoryService,
		Archive:             archive,
		Reporter:            reporter,
		Pipeline:            pipeline,
		Orchestrator:        orchestrator,
		NotificationService: mailbox.NewNotificationService(orchestrator, cache, log),
	}, nil
}

// newDecrypter falls back to plain values when no key is configured, which only makes sense locally.
func newDecrypter(key string, log logger.Logger) (utils.Decrypter, error) {
	if key == "" {
		log.Warn("ENCRYPTION_KEY not set, mailbox credentials are read as plain text")
		return utils.PlainDecrypter{}, nil
	}
	decrypter, err := utils.NewAesDecrypter(key)
	if err != nil {
		return nil, err
	}
	return decrypter, nil
}

func (s *Services) Close() error {
	if s.EventsService != nil {
		return s.EventsService.Close()
	}
	return nil
}
