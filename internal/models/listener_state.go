package models

import (
	"time"

	"github.com/customeros/mailflow/internal/enum"
)

// ListenerState is the last known lifecycle state of one user's mailbox listener
type ListenerState struct {
	UserId      int64                 `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"userId"`
	CustomerId  int64                 `gorm:"column:customer_id;index;not null" json:"customerId"`
	ListenerKey string                `gorm:"column:listener_key;type:varchar(50);index" json:"listenerKey"`
	Status      enum.ConnectionStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	RetryCount  int                   `gorm:"column:retry_count;not null;default:0" json:"retryCount"`
	LastError   string                `gorm:"column:last_error;type:text" json:"lastError"`
	CreatedAt   time.Time             `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (ListenerState) TableName() string {
	return "listener_states"
}
