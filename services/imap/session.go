package imap

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
)

const (
	InboxFolder = "INBOX"

	DEFAULT_IMAP_LOGOUT     = 20 * time.Minute
	DEFAULT_POLLING_PERIOD  = 1 * time.Minute
	DEFAULT_LOGOUT_TIMEOUT  = 5 * time.Second
	DEFAULT_DIAL_TIMEOUT    = 30 * time.Second
	DEFAULT_COMMAND_TIMEOUT = 30 * time.Second
	DEFAULT_UPDATES_BUFFER  = 100
)

// Client is the subset of *client.Client used by a session.
type Client interface {
	State() imap.ConnState
	Mailbox() *imap.MailboxStatus
	Support(capability string) (bool, error)
	Noop() error
	Logout() error
	Terminate() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Create(name string) error
	Subscribe(name string) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Append(mbox string, flags []string, date time.Time, msg imap.Literal) error
	Idle(stop <-chan struct{}, opts *client.IdleOptions) error
	Expunge(ch chan uint32) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	UidMove(seqset *imap.SeqSet, dest string) error
}

// Session owns one authenticated IMAP connection. IMAP allows a single command at a time and
// IDLE occupies the connection, so every command runs through exec, which aborts a running
// IDLE and waits for its turn. Idle only starts when no command is running or waiting.
type Session struct {
	client  Client
	updates chan client.Update
	log     logger.Logger
	prefix  string

	mu       sync.Mutex
	cond     *sync.Cond
	busy     bool
	waiting  int
	idleStop chan struct{}
	closed   bool

	inboxUidNext uint32
	onInboxGrow  func()
}

func newSession(c Client, updates chan client.Update, log logger.Logger, prefix string) *Session {
	s := &Session{
		client:  c,
		updates: updates,
		log:     log,
		prefix:  prefix,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Updates returns the unilateral server updates channel. Nil for sessions without one.
func (s *Session) Updates() <-chan client.Update {
	return s.updates
}

func (s *Session) exec(ctx context.Context, fn func(c Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.waiting++
	s.abortIdleLocked()
	for s.busy && !s.closed {
		s.cond.Wait()
	}
	s.waiting--
	if s.closed {
		s.cond.Broadcast()
		s.mu.Unlock()
		return mailflowErrors.ErrSessionClosed
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	return fn(s.client)
}

// Idle blocks in IMAP IDLE until the server reports a change, AbortIdle is called, another
// command is issued through the session, or the session is closed. onEnter runs once the
// IDLE command is about to be sent.
func (s *Session) Idle(onEnter func()) error {
	s.mu.Lock()
	for (s.busy || s.waiting > 0) && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return mailflowErrors.ErrSessionClosed
	}
	stop := make(chan struct{})
	s.idleStop = stop
	s.busy = true
	s.mu.Unlock()

	if onEnter != nil {
		onEnter()
	}

	err := s.client.Idle(stop, &client.IdleOptions{
		LogoutTimeout: DEFAULT_IMAP_LOGOUT,
		PollInterval:  DEFAULT_POLLING_PERIOD,
	})

	s.mu.Lock()
	if s.idleStop == stop {
		s.idleStop = nil
	}
	s.busy = false
	s.cond.Broadcast()
	s.mu.Unlock()

	return err
}

// AbortIdle makes a running Idle return. It is a no-op when not idling.
func (s *Session) AbortIdle() {
	s.mu.Lock()
	s.abortIdleLocked()
	s.mu.Unlock()
}

func (s *Session) abortIdleLocked() {
	if s.idleStop != nil {
		close(s.idleStop)
		s.idleStop = nil
	}
}

// Close aborts IDLE and rejects further commands. It does not log out.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.abortIdleLocked()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) State() imap.ConnState {
	return s.client.State()
}

// SelectInbox selects INBOX read-write and records its UIDNEXT.
func (s *Session) SelectInbox(ctx context.Context) (*imap.MailboxStatus, error) {
	var status *imap.MailboxStatus
	err := s.exec(ctx, func(c Client) error {
		var err error
		status, err = s.selectInboxLocked(c)
		return err
	})
	return status, err
}

func (s *Session) selectInboxLocked(c Client) (*imap.MailboxStatus, error) {
	status, err := c.Select(InboxFolder, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	grew := s.inboxUidNext != 0 && status.UidNext > s.inboxUidNext
	if s.inboxUidNext == 0 {
		s.inboxUidNext = status.UidNext
	}
	onGrow := s.onInboxGrow
	s.mu.Unlock()

	// mail that arrived while another folder was selected
	if grew && onGrow != nil {
		onGrow()
	}
	return status, nil
}

// restoreInbox reselects INBOX after a command that selected another folder.
func (s *Session) restoreInbox(c Client) {
	if mbox := c.Mailbox(); mbox != nil && strings.EqualFold(mbox.Name, InboxFolder) {
		return
	}
	if _, err := s.selectInboxLocked(c); err != nil {
		s.log.Warnf("%s failed to reselect inbox: %v", s.prefix, err)
	}
}

// lastSeenUid is the highest INBOX uid already handed to the listener.
func (s *Session) lastSeenUid() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboxUidNext == 0 {
		return 0
	}
	return s.inboxUidNext - 1
}

func (s *Session) advanceUid(uid uint32) {
	s.mu.Lock()
	if uid+1 > s.inboxUidNext {
		s.inboxUidNext = uid + 1
	}
	s.mu.Unlock()
}

func (s *Session) setOnInboxGrow(fn func()) {
	s.mu.Lock()
	s.onInboxGrow = fn
	s.mu.Unlock()
}

// logout ends the IMAP session within DEFAULT_LOGOUT_TIMEOUT and terminates the connection otherwise.
func (s *Session) logout() {
	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout()
	}()

	select {
	case err := <-done:
		if err != nil && err != client.ErrAlreadyLoggedOut {
			s.log.Debugf("%s error during logout: %v", s.prefix, err)
		}
	case <-time.After(DEFAULT_LOGOUT_TIMEOUT):
		s.log.Warnf("%s logout timed out, terminating connection", s.prefix)
		_ = s.client.Terminate()
	}
}
