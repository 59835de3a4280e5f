package imap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailflowErrors "github.com/customeros/mailflow/internal/errors"
)

func TestSession_ExecAbortsIdle(t *testing.T) {
	c := newFakeClient()
	s := newTestSession(c)

	entered := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- s.Idle(func() { close(entered) })
	}()
	<-entered
	<-c.idleEntered

	_, err := s.SelectInbox(context.Background())
	require.NoError(t, err)

	select {
	case err := <-idleDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("idle was not aborted by exec")
	}
	assert.Equal(t, []string{"IDLE", "SELECT INBOX"}, c.Calls())
}

func TestSession_CommandsAreSerialised(t *testing.T) {
	c := newFakeClient()
	s := newTestSession(c)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.exec(context.Background(), func(c Client) error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestSession_ClosedRejectsCommands(t *testing.T) {
	c := newFakeClient()
	s := newTestSession(c)
	s.Close()

	_, err := s.SelectInbox(context.Background())
	assert.ErrorIs(t, err, mailflowErrors.ErrSessionClosed)
	assert.ErrorIs(t, s.Idle(nil), mailflowErrors.ErrSessionClosed)
	assert.True(t, s.Closed())
}

func TestSession_CloseAbortsIdle(t *testing.T) {
	c := newFakeClient()
	s := newTestSession(c)

	idleDone := make(chan error, 1)
	go func() {
		idleDone <- s.Idle(nil)
	}()
	<-c.idleEntered
	s.Close()

	select {
	case err := <-idleDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("idle was not aborted by close")
	}
}

func TestSession_CancelledContext(t *testing.T) {
	s := newTestSession(newFakeClient())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SelectInbox(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_LastSeenUid(t *testing.T) {
	c := newFakeClient()
	c.deliver(InboxFolder, rawMessage("a@x", "a@example.com", "one", "1"))
	c.deliver(InboxFolder, rawMessage("b@x", "b@example.com", "two", "2"))
	s := newTestSession(c)

	assert.Equal(t, uint32(0), s.lastSeenUid())

	_, err := s.SelectInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.lastSeenUid())

	s.advanceUid(5)
	assert.Equal(t, uint32(5), s.lastSeenUid())
	s.advanceUid(3)
	assert.Equal(t, uint32(5), s.lastSeenUid())
}

func TestSession_ReselectSignalsGrowth(t *testing.T) {
	c := newFakeClient()
	s := newTestSession(c)
	grew := 0
	s.setOnInboxGrow(func() { grew++ })

	_, err := s.SelectInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, grew)

	c.deliver(InboxFolder, rawMessage("a@x", "a@example.com", "one", "1"))
	_, err = s.SelectInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, grew)
}

func TestSession_Logout(t *testing.T) {
	c := newFakeClient()
	s := newTestSession(c)
	s.logout()
	assert.True(t, c.loggedOut)
}
