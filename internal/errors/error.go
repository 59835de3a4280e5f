package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrMissingSettings    = errors.New("settings are missing")
	ErrInvalidSettings    = errors.New("invalid settings")
	ErrInvalidPorts       = errors.New("invalid ports")
	ErrInboxNotFound      = errors.New("inbox folder not found")
	ErrFolderNotFound     = errors.New("folder not found")
	ErrNotListening       = errors.New("listener never entered the wait state")
	ErrMaxRetries         = errors.New("max retries exceeded")
	ErrListenerStopped    = errors.New("listener stopped")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrTerminationTimeout = errors.New("termination timeout")
	ErrMessageNil         = errors.New("original message cannot be nil")
	ErrSessionClosed      = errors.New("mailbox session closed")
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindConnection  Kind = "connection"
	KindProtocol    Kind = "protocol"
	KindProcessing  Kind = "processing"
	KindTermination Kind = "termination"
	KindMaxRetries  Kind = "max_retries"
)

// MailboxError carries the failure kind and whether an operator has to be told.
type MailboxError struct {
	Kind        Kind
	Message     string
	NotifyAdmin bool
	cause       error
}

func (e *MailboxError) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.cause)
}

func (e *MailboxError) Unwrap() error {
	return e.cause
}

func (e *MailboxError) Cause() error {
	return e.cause
}

func newError(kind Kind, notifyAdmin bool, cause error, format string, args ...interface{}) error {
	return &MailboxError{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		NotifyAdmin: notifyAdmin,
		cause:       cause,
	}
}

func Validation(cause error, format string, args ...interface{}) error {
	return newError(KindValidation, false, cause, format, args...)
}

func Connection(cause error, format string, args ...interface{}) error {
	return newError(KindConnection, true, cause, format, args...)
}

func Protocol(cause error, format string, args ...interface{}) error {
	return newError(KindProtocol, true, cause, format, args...)
}

func Processing(cause error, notifyAdmin bool, format string, args ...interface{}) error {
	return newError(KindProcessing, notifyAdmin, cause, format, args...)
}

func Termination(cause error, format string, args ...interface{}) error {
	return newError(KindTermination, false, cause, format, args...)
}

func MaxRetries(cause error, userId int64) error {
	return newError(KindMaxRetries, true, cause, "giving up on mailbox listener for user %d after max retries", userId)
}

// KindOf returns the kind of the outermost MailboxError in the chain.
func KindOf(err error) (Kind, bool) {
	var mailboxErr *MailboxError
	if errors.As(err, &mailboxErr) {
		return mailboxErr.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ShouldNotifyAdmin reports whether any MailboxError in the chain asks for escalation.
func ShouldNotifyAdmin(err error) bool {
	for err != nil {
		if mailboxErr, ok := err.(*MailboxError); ok && mailboxErr.NotifyAdmin {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
