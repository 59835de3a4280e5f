package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/enum"
	"github.com/customeros/mailflow/internal/models"
	"github.com/customeros/mailflow/internal/tracing"
)

type listenerStateRepository struct {
	db *gorm.DB
}

func NewListenerStateRepository(db *gorm.DB) interfaces.ListenerStateRepository {
	return &listenerStateRepository{db: db}
}

// UpdateStatus upserts the state row of a user's listener
func (r *listenerStateRepository) UpdateStatus(ctx context.Context, state *models.ListenerState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "listenerStateRepository.UpdateStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagUser(span, state.UserId)
	span.SetTag("status", state.Status.String())

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	state.UpdatedAt = time.Now()
	result := r.db.WithContext(timeoutCtx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"customer_id", "listener_key", "status", "retry_count", "last_error", "updated_at"}),
	}).Create(state)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update listener status: %w", result.Error)
	}

	return nil
}

func (r *listenerStateRepository) GetByUser(ctx context.Context, userId int64) (*models.ListenerState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "listenerStateRepository.GetByUser")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagUser(span, userId)

	var state models.ListenerState
	err := r.db.WithContext(ctx).First(&state, "user_id = ?", userId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &state, nil
}

func (r *listenerStateRepository) ListByStatus(ctx context.Context, statuses ...enum.ConnectionStatus) ([]*models.ListenerState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "listenerStateRepository.ListByStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var states []*models.ListenerState
	query := r.db.WithContext(ctx)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Order("user_id").Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return states, nil
}

// MarkStaleActive flips ACTIVE rows whose user is not in activeUserIds to STOPPED.
func (r *listenerStateRepository) MarkStaleActive(ctx context.Context, activeUserIds []int64) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "listenerStateRepository.MarkStaleActive")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	query := r.db.WithContext(ctx).Model(&models.ListenerState{}).
		Where("status = ?", enum.ConnectionActive)
	if len(activeUserIds) > 0 {
		query = query.Where("user_id NOT IN ?", activeUserIds)
	}

	result := query.Updates(map[string]interface{}{
		"status":     enum.ConnectionStopped,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to mark stale listeners: %w", result.Error)
	}

	span.LogKV("affectedRows", result.RowsAffected)
	return result.RowsAffected, nil
}
