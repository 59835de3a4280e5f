package email_filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/customeros/mailflow/dto"
)

func message(from, subject string, headers ...string) *dto.MailMessage {
	raw := "From: " + from + "\r\nSubject: " + subject + "\r\n"
	for _, header := range headers {
		raw += header + "\r\n"
	}
	raw += "\r\nbody\r\n"
	return &dto.MailMessage{
		FromAddress: from,
		Subject:     subject,
		Raw:         []byte(raw),
	}
}

func TestScan_PersonalMessage(t *testing.T) {
	verdict := Scan(message("jane.doe@acme.com", "Question about pricing"))
	assert.False(t, verdict.Automated)
	assert.Empty(t, verdict.Reason)
}

func TestScan_Bounce(t *testing.T) {
	verdict := Scan(message("MAILER-DAEMON@mx.acme.com", "Hello"))
	assert.True(t, verdict.Automated)
	assert.Equal(t, "FROM contains bounce keywords", verdict.Reason)

	verdict = Scan(message("postmaster@acme.com", "Undelivered Mail Returned to Sender"))
	assert.True(t, verdict.Automated)

	verdict = Scan(message("jane@acme.com", "Hi", "X-Failed-Recipients: bob@acme.com"))
	assert.True(t, verdict.Automated)
	assert.Equal(t, "X-FAILED-RECIPIENTS header present", verdict.Reason)
}

func TestScan_Autoresponder(t *testing.T) {
	cases := map[string]string{
		"Auto-Submitted: auto-replied": "AUTO-SUBMITTED header present",
		"X-Autoreply: yes":             "X-AUTOREPLY header present",
		"Precedence: bulk":             "PRECEDENCE: BULK header present",
		"List-Unsubscribe: <mailto:u>": "UNSUBSCRIBE header present",
	}
	for header, reason := range cases {
		t.Run(header, func(t *testing.T) {
			verdict := Scan(message("jane@acme.com", "Out of office", header))
			assert.True(t, verdict.Automated)
			assert.Equal(t, reason, verdict.Reason)
		})
	}
}

func TestScan_AutoSubmittedNo(t *testing.T) {
	verdict := Scan(message("jane@acme.com", "Hi", "Auto-Submitted: no"))
	assert.False(t, verdict.Automated)
}

func TestScan_Nil(t *testing.T) {
	assert.False(t, Scan(nil).Automated)
}
