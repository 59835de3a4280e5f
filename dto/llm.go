package dto

import "time"

type CategorisationRequest struct {
	User       *User              `json:"user"`
	Text       string             `json:"text"`
	Categories []*MessageCategory `json:"categories"`
}

type CategorisationResponse struct {
	MessageCategory *MessageCategory `json:"messageCategory"`
	LlmUsed         string           `json:"llmUsed"`
	InputTokens     int64            `json:"inputTokens"`
	OutputTokens    int64            `json:"outputTokens"`
	TotalTokens     int64            `json:"totalTokens"`
}

type GenerationRequest struct {
	User                   *User                   `json:"user"`
	MessageThread          string                  `json:"messageThread"`
	FromEmailAddress       string                  `json:"fromEmailAddress"`
	Subject                string                  `json:"subject"`
	ReceivedAt             time.Time               `json:"receivedAt"`
	CategorisationResponse *CategorisationResponse `json:"categorisationResponse"`
	RagContext             *RagResponse            `json:"ragContext,omitempty"`
	// Token identifies the message log entry; the generation service builds the rating link from it.
	Token string `json:"token"`
}

// GenerationResponse carries the reply body. An empty Text means the message must be escalated.
type GenerationResponse struct {
	Text         string `json:"text"`
	LlmUsed      string `json:"llmUsed"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	TotalTokens  int64  `json:"totalTokens"`
}

type RagRequest struct {
	UserId        int64  `json:"userId"`
	CustomerId    int64  `json:"customerId"`
	MessageThread string `json:"messageThread"`
}

type RagResponse struct {
	RelevantSegments []string `json:"relevantSegments"`
	RelevantMetadata []string `json:"relevantMetadata"`
}

func (r *RagResponse) Empty() bool {
	return r == nil || len(r.RelevantSegments) == 0
}
