package events

import (
	"fmt"

	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/logger"
)

const AppSource = "mailflow"

type EventsService struct {
	Publisher  *RabbitMQPublisher
	Subscriber *RabbitMQSubscriber
}

// NewEventsService connects the publisher first so the queues exist before anyone consumes them.
func NewEventsService(rabbitmqURL string, log logger.Logger, publisherConfig *PublisherConfig, subscriberConfig *SubscriberConfig) (*EventsService, error) {
	publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, publisherConfig)
	if err != nil {
		return nil, err
	}

	subscriber, err := NewRabbitMQSubscriber(rabbitmqURL, log, subscriberConfig)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	return &EventsService{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// ListenNotifications registers the notification listeners and starts consuming their queue.
func (s *EventsService) ListenNotifications(log logger.Logger, notifications interfaces.NotificationService) error {
	for _, listener := range NotificationListeners(log, notifications) {
		s.Subscriber.RegisterListener(listener)
	}
	return s.Subscriber.ListenQueue(QueueMailflowNotifications)
}

func (s *EventsService) Close() error {
	var errs []error

	if s.Subscriber != nil {
		if err := s.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing events service: %v", errs)
	}

	return nil
}
