package interfaces

import (
	"context"

	"github.com/customeros/mailflow/internal/enum"
	"github.com/customeros/mailflow/internal/models"
)

type ListenerStateRepository interface {
	UpdateStatus(ctx context.Context, state *models.ListenerState) error
	GetByUser(ctx context.Context, userId int64) (*models.ListenerState, error)
	ListByStatus(ctx context.Context, statuses ...enum.ConnectionStatus) ([]*models.ListenerState, error)
	MarkStaleActive(ctx context.Context, activeUserIds []int64) (int64, error)
}

type MessageLogRepository interface {
	Create(ctx context.Context, entry *models.MessageLog) (string, error)
	GetByToken(ctx context.Context, token string) (*models.MessageLog, error)
	ListByUser(ctx context.Context, userId int64, limit int) ([]*models.MessageLog, error)
}
