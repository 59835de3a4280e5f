package interfaces

import (
	"context"

	"github.com/customeros/mailflow/dto"
)

// NotificationService applies directory change notifications, whichever transport delivered them.
type NotificationService interface {
	OnUserCreated(ctx context.Context, user *dto.User) error
	OnUserUpdated(ctx context.Context, user *dto.User) error
	OnMessageCategoriesUpdated(ctx context.Context, customerId int64, categories []*dto.MessageCategory) error
	OnBlacklistUpdated(ctx context.Context, userId int64, entries []*dto.BlacklistEntry) error
	OnCustomerTrialEnded(ctx context.Context, customerId int64) error
}

type ListenerOrchestrator interface {
	StartAll(ctx context.Context) error
	StartForUser(ctx context.Context, user *dto.User, shouldDelayStart bool) error
	StopForUser(ctx context.Context, userId int64) error
	RestartForUser(ctx context.Context, user *dto.User) error
	OnTrialFlagCleared(ctx context.Context, customerId int64) error
	StopAll(ctx context.Context) error
	Status() dto.OrchestratorStatus
	ActiveUserIds() []int64
}
