package dto

import "time"

// MailMessage is one fetched IMAP message.
type MailMessage struct {
	Uid         uint32
	SeqNum      uint32
	MessageId   string
	InReplyTo   string
	References  []string
	FromAddress string
	FromName    string
	To          []string
	Cc          []string
	ReplyTo     []string
	Subject     string
	ReceivedAt  time.Time
	Raw         []byte
	Text        string
	Html        string
}

type ThreadMessage struct {
	Internal   bool
	ReceivedAt time.Time
	Body       string
}
