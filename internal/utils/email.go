package utils

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
)

var replyPrefixRegex = regexp.MustCompile(`(?i)^(re|aw|sv)(\[\d+\])?\s*:`)

// NormalizeEmailAddress lowercases and cleans an address. Unparseable input is only trimmed and lowercased.
func NormalizeEmailAddress(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}

	validation := mailvalidate.ValidateEmailSyntax(email)
	if validation.IsValid && validation.CleanEmail != "" {
		return strings.ToLower(validation.CleanEmail)
	}
	return strings.ToLower(email)
}

func IsValidEmailAddress(email string) bool {
	return mailvalidate.ValidateEmailSyntax(email).IsValid
}

func ExtractDomainFromEmail(email string) string {
	if email == "" {
		return ""
	}

	email = strings.TrimSpace(email)

	// "Name <email@domain.com>"
	if strings.Contains(email, "<") && strings.Contains(email, ">") {
		startIdx := strings.LastIndex(email, "<") + 1
		endIdx := strings.LastIndex(email, ">")
		if startIdx > 0 && endIdx > startIdx {
			email = email[startIdx:endIdx]
		}
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(parts[1]))
}

func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if replyPrefixRegex.MatchString(subject) {
		return subject
	}
	return "Re: " + subject
}

// ExtractEmailAddress returns the bare address of "Name <addr>" or "addr".
func ExtractEmailAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(value); err == nil {
		return strings.ToLower(parsed.Address)
	}
	if start, end := strings.LastIndex(value, "<"), strings.LastIndex(value, ">"); start >= 0 && end > start {
		value = value[start+1 : end]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
