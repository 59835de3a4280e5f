package interfaces

import (
	"context"

	"github.com/customeros/mailflow/dto"
)

// MessageConfigCache holds message categories per customer and blacklists per user.
// Stores are insert-if-absent unless stated otherwise.
type MessageConfigCache interface {
	GetCategories(ctx context.Context, customerId int64) ([]*dto.MessageCategory, bool)
	StoreCategoriesIfAbsent(ctx context.Context, customerId int64, categories []*dto.MessageCategory) []*dto.MessageCategory
	ReplaceCategories(ctx context.Context, customerId int64, categories []*dto.MessageCategory)
	GetBlacklist(ctx context.Context, userId int64) ([]*dto.BlacklistEntry, bool)
	StoreBlacklistIfAbsent(ctx context.Context, userId int64, entries []*dto.BlacklistEntry) []*dto.BlacklistEntry
	ReplaceBlacklist(ctx context.Context, userId int64, entries []*dto.BlacklistEntry)
	EvictUser(ctx context.Context, userId int64)
	Flush(ctx context.Context)
}
