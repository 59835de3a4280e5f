package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawMessage(t *testing.T) {
	raw := "From: \"Jane Doe\" <Jane@Example.com>\r\n" +
		"To: user@example.com, other@example.com\r\n" +
		"Cc: cc@example.com\r\n" +
		"Reply-To: replies@example.com\r\n" +
		"Subject: Pricing question\r\n" +
		"Message-ID: <abc@mail.example.com>\r\n" +
		"In-Reply-To: <prev@mail.example.com>\r\n" +
		"References: <first@mail.example.com> <prev@mail.example.com>\r\n" +
		"Date: Mon, 05 Jan 2026 10:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"How much is it?\r\n"

	message, err := ParseRawMessage([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "abc@mail.example.com", message.MessageId)
	assert.Equal(t, "prev@mail.example.com", message.InReplyTo)
	assert.Equal(t, []string{"first@mail.example.com", "prev@mail.example.com"}, message.References)
	assert.Equal(t, "jane@example.com", message.FromAddress)
	assert.Equal(t, "Jane Doe", message.FromName)
	assert.Equal(t, []string{"user@example.com", "other@example.com"}, message.To)
	assert.Equal(t, []string{"cc@example.com"}, message.Cc)
	assert.Equal(t, []string{"replies@example.com"}, message.ReplyTo)
	assert.Equal(t, "Pricing question", message.Subject)
	assert.Contains(t, message.Text, "How much is it?")
	assert.Equal(t, 2026, message.ReceivedAt.Year())
}

func TestFetchNewerThan(t *testing.T) {
	c := newFakeClient()
	c.deliver(InboxFolder, rawMessage("one@x", "a@example.com", "one", "1"))
	c.deliver(InboxFolder, rawMessage("two@x", "b@example.com", "two", "2"))
	c.deliver(InboxFolder, rawMessage("three@x", "c@example.com", "three", "3"))
	_, err := c.Select(InboxFolder, false)
	require.NoError(t, err)

	messages, err := fetchNewerThan(c, 1)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, uint32(2), messages[0].Uid)
	assert.Equal(t, "two@x", messages[0].MessageId)
	assert.Equal(t, uint32(3), messages[1].Uid)
}

func TestFetchNewerThan_NothingNew(t *testing.T) {
	c := newFakeClient()
	c.deliver(InboxFolder, rawMessage("one@x", "a@example.com", "one", "1"))
	_, err := c.Select(InboxFolder, false)
	require.NoError(t, err)

	// "2:*" still matches uid 1 on the server
	messages, err := fetchNewerThan(c, 1)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
