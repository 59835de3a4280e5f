package interfaces

import (
	"context"

	"github.com/customeros/mailflow/dto"
)

// DirectoryService is the remote owner of users, customers, categories and blacklists.
type DirectoryService interface {
	ListEnabledUsers(ctx context.Context) ([]*dto.User, error)
	ListUsersByCustomer(ctx context.Context, customerId int64) ([]*dto.User, error)
	GetCustomer(ctx context.Context, customerId int64) (*dto.Customer, error)
	ListMessageCategories(ctx context.Context, customerId int64) ([]*dto.MessageCategory, error)
	ListBlacklist(ctx context.Context, customerId, userId int64) ([]*dto.BlacklistEntry, error)
	CreateMessageLog(ctx context.Context, entry *dto.MessageLogEntry) error
}
