package imap

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/dto"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/tracing"
)

// listen loops on IDLE until the task is disconnected, the context is cancelled or IMAP fails.
// New mail is signalled through signals; each signal triggers a fetch of everything above the
// last seen uid, so dropped signals never lose messages.
func (t *ListenerTask) listen(ctx context.Context, conn *Connection, signals chan struct{}) error {
	session := conn.Session
	session.setOnInboxGrow(func() { signal(signals) })

	for {
		if !t.isActive() || ctx.Err() != nil {
			return nil
		}

		err := session.Idle(t.markReady)

		if !t.isActive() || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, mailflowErrors.ErrSessionClosed) {
				return nil
			}
			return mailflowErrors.Protocol(err, "%s idle failed", t.prefix)
		}

		switch session.State() {
		case imap.LogoutState:
			return mailflowErrors.Protocol(client.ErrNotLoggedIn, "%s connection logged out", t.prefix)
		case imap.AuthenticatedState:
			if _, err := session.SelectInbox(ctx); err != nil {
				return mailflowErrors.Protocol(err, "%s failed to reselect inbox", t.prefix)
			}
			t.log.Debugf("%s inbox was unselected by the server, selected again", t.prefix)
			continue
		}

		if !drainSignals(signals) {
			continue
		}
		if err := t.dispatchNew(ctx, conn); err != nil {
			if errors.Is(err, mailflowErrors.ErrSessionClosed) || !t.isActive() {
				return nil
			}
			return mailflowErrors.Protocol(err, "%s failed to fetch new messages", t.prefix)
		}
	}
}

func signal(signals chan struct{}) {
	select {
	case signals <- struct{}{}:
	default:
	}
}

func drainSignals(signals chan struct{}) bool {
	pending := false
	for {
		select {
		case <-signals:
			pending = true
		default:
			return pending
		}
	}
}

// watchUpdates reads unilateral server updates and aborts IDLE when INBOX grows.
func (t *ListenerTask) watchUpdates(session *Session, signals chan struct{}, stop <-chan struct{}) {
	defer tracing.RecoverAndLogToJaeger(t.log)

	updates := session.Updates()
	if updates == nil {
		return
	}

	var lastCount uint32
	if mbox := session.client.Mailbox(); mbox != nil && sameFolder(mbox.Name, InboxFolder) {
		lastCount = mbox.Messages
	}

	for {
		select {
		case <-stop:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			switch u := update.(type) {
			case *client.MailboxUpdate:
				if u.Mailbox == nil || !sameFolder(u.Mailbox.Name, InboxFolder) {
					continue
				}
				if u.Mailbox.Messages > lastCount {
					t.log.Debugf("%s inbox grew from %d to %d messages", t.prefix, lastCount, u.Mailbox.Messages)
					signal(signals)
					session.AbortIdle()
				}
				lastCount = u.Mailbox.Messages
			case *client.ExpungeUpdate:
				if lastCount > 0 {
					lastCount--
				}
			}
		}
	}
}

// dispatchNew fetches INBOX messages above the last seen uid and hands each one to the
// message handler once per recipient, without waiting for the handlers.
func (t *ListenerTask) dispatchNew(ctx context.Context, conn *Connection) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ListenerTask.dispatchNew")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	span.SetTag("listener", t.Key)

	session := conn.Session

	var messages []*dto.MailMessage
	err := session.exec(ctx, func(c Client) error {
		session.restoreInbox(c)

		var err error
		messages, err = fetchNewerThan(c, session.lastSeenUid())
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("messages", len(messages))

	for _, message := range messages {
		session.advanceUid(message.Uid)
	}

	recipients := t.recipients()
	for _, message := range messages {
		t.log.Infof("%s new message uid %d from %s", t.prefix, message.Uid, message.FromAddress)
		for _, user := range recipients {
			go func(user *dto.User, message *dto.MailMessage) {
				defer tracing.RecoverAndLogToJaeger(t.log)
				t.handler(ctx, user, session, conn.Transport, message)
			}(user, message)
		}
	}
	return nil
}
