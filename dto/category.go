package dto

import "strings"

const (
	CategoryDefault = "default"
	CategoryNoReply = "no-reply"
)

type MessageCategory struct {
	Id             int64  `json:"id"`
	CustomerId     int64  `json:"customerId"`
	Category       string `json:"category"`
	IsReply        bool   `json:"isReply"`
	IsFunctionCall bool   `json:"isFunctionCall"`
	Description    string `json:"description"`
}

// Fileable reports whether messages of this category are moved out of the inbox.
func (c *MessageCategory) Fileable() bool {
	if c == nil || strings.TrimSpace(c.Category) == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(c.Category)) {
	case CategoryDefault, CategoryNoReply:
		return false
	}
	return true
}

type BlacklistEntry struct {
	Id           int64  `json:"id"`
	UserId       int64  `json:"userId"`
	CustomerId   int64  `json:"customerId"`
	EmailAddress string `json:"blacklistedEmailAddress"`
}
