package mailbox

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
)

type notificationService struct {
	orchestrator interfaces.ListenerOrchestrator
	cache        interfaces.MessageConfigCache
	log          logger.Logger
}

func NewNotificationService(orchestrator interfaces.ListenerOrchestrator, cache interfaces.MessageConfigCache, log logger.Logger) interfaces.NotificationService {
	return &notificationService{
		orchestrator: orchestrator,
		cache:        cache,
		log:          log,
	}
}

func (s *notificationService) OnUserCreated(ctx context.Context, user *dto.User) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationService.OnUserCreated")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if user == nil {
		return mailflowErrors.Validation(mailflowErrors.ErrMissingSettings, "user is missing")
	}
	tracing.TagUser(span, user.Id)
	ctx = utils.WithUser(ctx, user.Id, user.CustomerId)

	s.log.Infof("[user:%d] user created", user.Id)
	if err := s.orchestrator.StartForUser(ctx, user, false); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *notificationService) OnUserUpdated(ctx context.Context, user *dto.User) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationService.OnUserUpdated")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if user == nil {
		return mailflowErrors.Validation(mailflowErrors.ErrMissingSettings, "user is missing")
	}
	tracing.TagUser(span, user.Id)
	ctx = utils.WithUser(ctx, user.Id, user.CustomerId)

	s.log.Infof("[user:%d] user updated, restarting listener", user.Id)
	if err := s.orchestrator.RestartForUser(ctx, user); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *notificationService) OnMessageCategoriesUpdated(ctx context.Context, customerId int64, categories []*dto.MessageCategory) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationService.OnMessageCategoriesUpdated")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)
	span.SetTag("categories", len(categories))

	s.cache.ReplaceCategories(ctx, customerId, categories)
	s.log.Infof("[customer:%d] %d message categories replaced", customerId, len(categories))
	return nil
}

func (s *notificationService) OnBlacklistUpdated(ctx context.Context, userId int64, entries []*dto.BlacklistEntry) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationService.OnBlacklistUpdated")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUser(span, userId)
	span.SetTag("entries", len(entries))

	s.cache.ReplaceBlacklist(ctx, userId, entries)
	s.log.Infof("[user:%d] blacklist replaced with %d entries", userId, len(entries))
	return nil
}

func (s *notificationService) OnCustomerTrialEnded(ctx context.Context, customerId int64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationService.OnCustomerTrialEnded")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagCustomer(span, customerId)

	s.log.Infof("[customer:%d] trial ended, splitting shared listener", customerId)
	if err := s.orchestrator.OnTrialFlagCleared(ctx, customerId); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
