package dto

import "time"

type MessageLogEntry struct {
	UserId                     int64     `json:"userId"`
	CustomerId                 int64     `json:"customerId"`
	IsReply                    bool      `json:"isReply"`
	IsFunctionCall             bool      `json:"isFunctionCall"`
	Category                   string    `json:"category"`
	MessageId                  string    `json:"messageId"`
	FromEmailAddress           string    `json:"fromEmailAddress"`
	Subject                    string    `json:"subject"`
	ReceivedAt                 time.Time `json:"receivedAt"`
	ProcessedAt                time.Time `json:"processedAt"`
	ProcessingTimeInSeconds    int64     `json:"processingTimeInSeconds"`
	LlmUsedForCategorisation   string    `json:"llmUsedForCategorisation"`
	InputTokensCategorisation  int64     `json:"inputTokensCategorisation"`
	OutputTokensCategorisation int64     `json:"outputTokensCategorisation"`
	TotalTokensCategorisation  int64     `json:"totalTokensCategorisation"`
	LlmUsedForGeneration       string    `json:"llmUsedForGeneration"`
	InputTokensGeneration      int64     `json:"inputTokensGeneration"`
	OutputTokensGeneration     int64     `json:"outputTokensGeneration"`
	TotalTokensGeneration      int64     `json:"totalTokensGeneration"`
	Token                      string    `json:"token"`
}
