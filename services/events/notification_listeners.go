package events

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
)

// NotificationListeners returns one listener per directory notification on the mailflow queue.
func NotificationListeners(log logger.Logger, notifications interfaces.NotificationService) []interfaces.EventListener {
	return []interfaces.EventListener{
		newNotificationListener[dto.UserCreated](log, func(ctx context.Context, data dto.UserCreated) error {
			return notifications.OnUserCreated(ctx, data.User)
		}),
		newNotificationListener[dto.UserUpdated](log, func(ctx context.Context, data dto.UserUpdated) error {
			return notifications.OnUserUpdated(ctx, data.User)
		}),
		newNotificationListener[dto.MessageCategoriesUpdated](log, func(ctx context.Context, data dto.MessageCategoriesUpdated) error {
			return notifications.OnMessageCategoriesUpdated(ctx, data.CustomerId, data.Categories)
		}),
		newNotificationListener[dto.BlacklistUpdated](log, func(ctx context.Context, data dto.BlacklistUpdated) error {
			return notifications.OnBlacklistUpdated(ctx, data.UserId, data.Entries)
		}),
		newNotificationListener[dto.CustomerTrialEnded](log, func(ctx context.Context, data dto.CustomerTrialEnded) error {
			return notifications.OnCustomerTrialEnded(ctx, data.CustomerId)
		}),
	}
}

type notificationListener[T any] struct {
	BaseEventListener
	apply func(ctx context.Context, data T) error
}

func newNotificationListener[T any](log logger.Logger, apply func(ctx context.Context, data T) error) *notificationListener[T] {
	return &notificationListener[T]{
		BaseEventListener: NewBaseEventListener(log, GetEventType[T](), QueueMailflowNotifications),
		apply:             apply,
	}
}

func (l *notificationListener[T]) Handle(ctx context.Context, input any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	span.SetTag("event-type", l.eventType)

	event, err := l.ValidateBaseEvent(ctx, input)
	if err != nil {
		return err
	}
	tracing.TagEntity(span, event.Event.EntityId)

	data, err := DecodeEventData[T](ctx, event)
	if err != nil {
		return err
	}

	if err := l.apply(ctx, data); err != nil {
		tracing.TraceErr(span, err)
		// invalid settings do not heal on redelivery and connection failures are already retried
		if mailflowErrors.IsKind(err, mailflowErrors.KindValidation) || mailflowErrors.IsKind(err, mailflowErrors.KindConnection) {
			l.logger.Warnf("dropping %s event %s: %v", l.eventType, event.Event.Id, err)
			return nil
		}
		return err
	}
	return nil
}
