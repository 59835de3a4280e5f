package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveQuotedLines(t *testing.T) {
	text := "Thanks, see below.\r\n> On Monday you wrote:\r\n   > old text\r\nBest"
	assert.Equal(t, "Thanks, see below.\nBest", RemoveQuotedLines(text))
}

func TestHtmlToText_DropsBlockquotes(t *testing.T) {
	html := `<html><body><p>New reply</p><blockquote>quoted history</blockquote><script>x()</script></body></html>`

	text, err := HtmlToText(html)
	require.NoError(t, err)
	assert.Contains(t, text, "New reply")
	assert.NotContains(t, text, "quoted history")
	assert.NotContains(t, text, "x()")
}

func TestHtmlToText_Empty(t *testing.T) {
	text, err := HtmlToText("  ")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestCleanedText_PlainText(t *testing.T) {
	raw := rawMessage("a@x", "a@example.com", "hi", "Hello there\r\n> quoted")

	text, err := CleanedText([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)
}

func TestCleanedText_AlternativePrefersPlain(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"Plain version\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<p>Html version</p>\r\n" +
		"--b1--\r\n"

	text, err := CleanedText([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Plain version", text)
}

func TestCleanedText_MixedSkipsAttachments(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"m1\"\r\n\r\n" +
		"--m1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<p>See attached</p><blockquote>old</blockquote>\r\n" +
		"--m1\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Disposition: attachment; filename=\"notes.txt\"\r\n\r\n" +
		"attachment body\r\n" +
		"--m1--\r\n"

	text, err := CleanedText([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "See attached", text)
}

func TestCleanedText_Empty(t *testing.T) {
	text, err := CleanedText(nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}
