package imap

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailflow/dto"
)

func TestSortThread(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	first := &dto.MailMessage{Uid: 1, MessageId: "first@x", ReceivedAt: base}
	second := &dto.MailMessage{Uid: 2, MessageId: "second@x", ReceivedAt: base.Add(time.Hour)}
	duplicate := &dto.MailMessage{Uid: 9, MessageId: "first@x", ReceivedAt: base.Add(2 * time.Hour)}
	undated := &dto.MailMessage{Uid: 3}

	sorted := SortThread([]*dto.MailMessage{second, nil, duplicate, first, undated})

	require.Len(t, sorted, 3)
	assert.Equal(t, undated, sorted[0])
	assert.Equal(t, second, sorted[1])
	assert.Equal(t, duplicate, sorted[2], "the first occurrence of a message id wins")
}

func TestBuildThreadBody(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	thread := []*dto.MailMessage{
		{FromAddress: "customer@example.com", ReceivedAt: base, Text: "Question?"},
		{FromAddress: "me@company.com", ReceivedAt: base.Add(time.Hour), Text: "Answer.\n> Question?"},
	}

	body := BuildThreadBody("me@company.com", thread)

	expected := "Message 1\nFrom: Customer (External)\nReceived at: 2026-01-05T10:00:00Z\nBody:\nQuestion?" +
		"\n\n" +
		"Message 2\nFrom: Employee (Internal)\nReceived at: 2026-01-05T11:00:00Z\nBody:\nAnswer."
	assert.Equal(t, expected, body)
}

func TestThreadReferences(t *testing.T) {
	message := &dto.MailMessage{
		MessageId:  "self@x",
		InReplyTo:  "parent@x",
		References: []string{"root@x", "self@x"},
	}
	assert.Equal(t, []string{"root@x", "parent@x"}, threadReferences(message))
}

func TestFetchThread(t *testing.T) {
	c := newFakeClient(
		&imap.MailboxInfo{Name: "INBOX"},
		&imap.MailboxInfo{Name: "Sent", Attributes: []string{imap.SentAttr}},
	)
	c.deliver(InboxFolder, rawMessage("root@x", "customer@example.com", "Question", "Question?"))
	c.deliver("Sent", rawMessage("reply@x", "me@company.com", "Re: Question", "Answer."))
	s := newTestSession(c)

	message := &dto.MailMessage{
		Uid:        5,
		MessageId:  "latest@x",
		References: []string{"root@x", "reply@x"},
		ReceivedAt: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	thread, err := s.FetchThread(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "latest@x", thread[2].MessageId)

	ids := []string{thread[0].MessageId, thread[1].MessageId}
	assert.ElementsMatch(t, []string{"root@x", "reply@x"}, ids)
	assert.Equal(t, InboxFolder, c.Mailbox().Name, "inbox is selected again after the sent lookup")
}

func TestFetchThread_NoReferences(t *testing.T) {
	s := newTestSession(newFakeClient())
	message := &dto.MailMessage{MessageId: "solo@x"}

	thread, err := s.FetchThread(context.Background(), message)
	require.NoError(t, err)
	assert.Equal(t, []*dto.MailMessage{message}, thread)
}
