package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/models"
	"github.com/customeros/mailflow/internal/tracing"
)

type messageLogRepository struct {
	db *gorm.DB
}

func NewMessageLogRepository(db *gorm.DB) interfaces.MessageLogRepository {
	return &messageLogRepository{db: db}
}

func (r *messageLogRepository) Create(ctx context.Context, entry *models.MessageLog) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageLogRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagUser(span, entry.UserId)

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to create message log: %w", err)
	}

	tracing.TagEntity(span, entry.ID)
	return entry.ID, nil
}

func (r *messageLogRepository) GetByToken(ctx context.Context, token string) (*models.MessageLog, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageLogRepository.GetByToken")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var entry models.MessageLog
	err := r.db.WithContext(ctx).First(&entry, "token = ?", token).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrMessageLogNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &entry, nil
}

func (r *messageLogRepository) ListByUser(ctx context.Context, userId int64, limit int) ([]*models.MessageLog, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageLogRepository.ListByUser")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagUser(span, userId)

	if limit <= 0 {
		limit = 50
	}

	var entries []*models.MessageLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("processed_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return entries, nil
}
