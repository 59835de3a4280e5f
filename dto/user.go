package dto

type User struct {
	Id           int64     `json:"id"`
	CustomerId   int64     `json:"customerId"`
	EmailAddress string    `json:"emailAddress"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Settings     *Settings `json:"settings"`
}

// Settings holds the mailbox connection parameters and feature flags of a user.
// EmailAddress on the user and MailboxPassword are stored encrypted.
type Settings struct {
	UserId                    int64  `json:"userId"`
	CustomerId                int64  `json:"customerId"`
	ExecutionEnabled          bool   `json:"executionEnabled"`
	AutoReplyEnabled          bool   `json:"autoReplyEnabled"`
	MoveToManualReviewEnabled bool   `json:"moveToManualReviewEnabled"`
	ResponseRatingEnabled     bool   `json:"responseRatingEnabled"`
	MailboxPassword           string `json:"mailboxPassword"`
	ImapHost                  string `json:"imapHost"`
	SmtpHost                  string `json:"smtpHost"`
	ImapPort                  int    `json:"imapPort"`
	SmtpPort                  int    `json:"smtpPort"`
}

type Customer struct {
	Id            int64  `json:"id"`
	Company       string `json:"company"`
	IsTestVersion bool   `json:"isTestVersion"`
}
