package email_filter

import (
	"bytes"
	"net/mail"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"

	"github.com/customeros/mailflow/dto"
)

// Verdict says whether a message was generated by a machine and why.
type Verdict struct {
	Automated bool
	Reason    string
}

var bounceSubjects = []string{
	"mail delivery failure",
	"undelivered mail returned to sender",
	"delivery status notification",
	"undeliverable",
	"undelivered",
	"delivery failure",
	"failure notice",
	"returned mail",
	"returned to sender",
}

// Scan flags bounces, autoresponders and system senders. Replying to them automatically risks a mail loop.
func Scan(message *dto.MailMessage) Verdict {
	if message == nil {
		return Verdict{}
	}
	headers := parseHeaders(message.Raw)

	if ok, reason := isBounceNotification(headers, message.Subject, message.FromAddress); ok {
		return Verdict{Automated: true, Reason: reason}
	}
	if ok, reason := isAutoresponder(headers); ok {
		return Verdict{Automated: true, Reason: reason}
	}
	if message.FromAddress != "" {
		validation := mailvalidate.ValidateEmailSyntax(message.FromAddress)
		if validation.IsSystemGenerated {
			return Verdict{Automated: true, Reason: "FROM is system generated"}
		}
	}
	return Verdict{}
}

func parseHeaders(raw []byte) mail.Header {
	if len(raw) == 0 {
		return mail.Header{}
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return mail.Header{}
	}
	return msg.Header
}

func isBounceNotification(headers mail.Header, subject, from string) (bool, string) {
	switch {
	case headers.Get("X-Failed-Recipients") != "":
		return true, "X-FAILED-RECIPIENTS header present"
	case strings.EqualFold(headers.Get("Content-Description"), "delivery report"):
		return true, "CONTENT-DESCRIPTION: DELIVERY REPORT header present"
	case hasBounceKeywords(headers.Get("Return-Path")):
		return true, "RETURN-PATH contains bounce keywords"
	case hasBounceKeywords(from):
		return true, "FROM contains bounce keywords"
	case isBounceSubject(subject):
		return true, "SUBJECT contains bounce keywords"
	default:
		return false, ""
	}
}

func isAutoresponder(headers mail.Header) (bool, string) {
	autoSubmitted := strings.ToLower(strings.TrimSpace(headers.Get("Auto-Submitted")))
	precedence := strings.ToLower(strings.TrimSpace(headers.Get("Precedence")))
	switch {
	case autoSubmitted != "" && autoSubmitted != "no":
		return true, "AUTO-SUBMITTED header present"
	case headers.Get("X-Autoreply") != "":
		return true, "X-AUTOREPLY header present"
	case headers.Get("X-Autorespond") != "", headers.Get("X-Autoresponse") != "":
		return true, "X-AUTORESPONSE header present"
	case headers.Get("X-Loop") != "":
		return true, "X-LOOP header present"
	case precedence == "auto_reply" || precedence == "bulk" || precedence == "junk" || precedence == "list":
		return true, "PRECEDENCE: " + strings.ToUpper(precedence) + " header present"
	case headers.Get("List-Unsubscribe") != "":
		return true, "UNSUBSCRIBE header present"
	default:
		return false, ""
	}
}

func hasBounceKeywords(str string) bool {
	return strings.Contains(strings.ToLower(str), "mailer-daemon")
}

func isBounceSubject(subject string) bool {
	subject = strings.ToLower(subject)
	for _, phrase := range bounceSubjects {
		if strings.Contains(subject, phrase) {
			return true
		}
	}
	return false
}
