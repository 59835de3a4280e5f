package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailflow/internal/utils"
)

type MessageLog struct {
	ID                        string         `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	UserId                    int64          `gorm:"column:user_id;index;not null" json:"userId"`
	CustomerId                int64          `gorm:"column:customer_id;index;not null" json:"customerId"`
	Category                  string         `gorm:"column:category;type:varchar(255);index" json:"category"`
	IsReply                   bool           `gorm:"column:is_reply;not null;default:false" json:"isReply"`
	IsFunctionCall            bool           `gorm:"column:is_function_call;not null;default:false" json:"isFunctionCall"`
	MessageId                 string         `gorm:"column:message_id;type:varchar(255)" json:"messageId"`
	References                pq.StringArray `gorm:"column:references;type:text[]" json:"references"`
	FromEmailAddress          string         `gorm:"column:from_email_address;type:varchar(255)" json:"fromEmailAddress"`
	Subject                   string         `gorm:"column:subject;type:text" json:"subject"`
	ReceivedAt                time.Time      `gorm:"column:received_at;type:timestamp" json:"receivedAt"`
	ProcessedAt               time.Time      `gorm:"column:processed_at;type:timestamp" json:"processedAt"`
	ProcessingTimeInSeconds   int64          `gorm:"column:processing_time_in_seconds" json:"processingTimeInSeconds"`
	LlmUsedForCategorisation  string         `gorm:"column:llm_used_for_categorisation;type:varchar(100)" json:"llmUsedForCategorisation"`
	TotalTokensCategorisation int64          `gorm:"column:total_tokens_categorisation" json:"totalTokensCategorisation"`
	LlmUsedForGeneration      string         `gorm:"column:llm_used_for_generation;type:varchar(100)" json:"llmUsedForGeneration"`
	TotalTokensGeneration     int64          `gorm:"column:total_tokens_generation" json:"totalTokensGeneration"`
	Token                     string         `gorm:"column:token;type:varchar(50);uniqueIndex" json:"token"`
	CreatedAt                 time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (MessageLog) TableName() string {
	return "message_logs"
}

func (m *MessageLog) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("mlog", 16)
	}
	return nil
}
