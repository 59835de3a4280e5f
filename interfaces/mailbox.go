package interfaces

import (
	"context"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/customeros/mailflow/dto"
)

// MailboxSession is the set of IMAP operations the message pipeline runs against a live listener.
// Implementations interrupt the IDLE wait for the duration of each call.
type MailboxSession interface {
	FolderByAttribute(ctx context.Context, attribute string) (string, error)
	FolderByName(ctx context.Context, name string) (string, bool, error)
	CreateFolder(ctx context.Context, name string) (string, error)
	MoveToFolder(ctx context.Context, uid uint32, folder string) error
	AddFlags(ctx context.Context, uid uint32, flags ...string) error
	Append(ctx context.Context, folder string, flags []string, date time.Time, raw []byte) error
	FetchThread(ctx context.Context, message *dto.MailMessage) ([]*dto.MailMessage, error)
}

type MailTransport interface {
	Send(ctx context.Context, message *gomail.Message) error
	Close() error
}

// MessageHandler is invoked on its own goroutine once per arrived message and recipient user.
type MessageHandler func(ctx context.Context, user *dto.User, session MailboxSession, transport MailTransport, message *dto.MailMessage)

type ErrorReporter interface {
	Report(ctx context.Context, err error)
}

type Notifier interface {
	NotifyAdmin(ctx context.Context, escalation dto.MailboxEscalation)
}
