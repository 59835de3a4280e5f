package interfaces

import (
	"context"

	"github.com/customeros/mailflow/dto"
)

type EventPublisher interface {
	PublishEscalation(ctx context.Context, escalation dto.MailboxEscalation) error
	Close() error
}

type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	Close() error
}
