package dto

import "time"

type UserCreated struct {
	User *User `json:"user"`
}

type UserUpdated struct {
	User *User `json:"user"`
}

type MessageCategoriesUpdated struct {
	CustomerId int64              `json:"customerId"`
	Categories []*MessageCategory `json:"categories"`
}

type BlacklistUpdated struct {
	UserId     int64             `json:"userId"`
	CustomerId int64             `json:"customerId"`
	Entries    []*BlacklistEntry `json:"entries"`
}

type CustomerTrialEnded struct {
	CustomerId int64 `json:"customerId"`
}

// MailboxEscalation is published when an error requires operator attention.
type MailboxEscalation struct {
	UserId     int64     `json:"userId,omitempty"`
	CustomerId int64     `json:"customerId,omitempty"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}
