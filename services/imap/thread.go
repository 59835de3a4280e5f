package imap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
)

// FetchThread collects the messages referenced by message from INBOX and the \Sent folder
// and returns them together with message, deduplicated and ordered by receive time.
func (s *Session) FetchThread(ctx context.Context, message *dto.MailMessage) ([]*dto.MailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.FetchThread")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)

	if message == nil {
		return nil, nil
	}

	references := threadReferences(message)
	span.LogKV("references", len(references))
	if len(references) == 0 {
		return []*dto.MailMessage{message}, nil
	}

	thread := []*dto.MailMessage{message}
	err := s.exec(ctx, func(c Client) error {
		defer s.restoreInbox(c)

		s.restoreInbox(c)
		found, err := searchByMessageIds(c, references)
		if err != nil {
			return err
		}
		thread = append(thread, found...)

		sent, ok, err := findFolderByAttribute(c, imap.SentAttr)
		if err != nil || !ok {
			s.log.Debugf("%s no sent folder for thread lookup: %v", s.prefix, err)
			return nil
		}
		if _, err = c.Select(sent, true); err != nil {
			return err
		}
		found, err = searchByMessageIds(c, references)
		if err != nil {
			return err
		}
		thread = append(thread, found...)
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return SortThread(thread), nil
}

func threadReferences(message *dto.MailMessage) []string {
	references := append([]string{}, message.References...)
	if message.InReplyTo != "" && !utils.IsStringInSlice(message.InReplyTo, references) {
		references = append(references, message.InReplyTo)
	}

	result := references[:0]
	for _, ref := range references {
		if ref != "" && ref != message.MessageId {
			result = append(result, ref)
		}
	}
	return result
}

func searchByMessageIds(c Client, messageIds []string) ([]*dto.MailMessage, error) {
	seqSet := new(imap.SeqSet)
	for _, messageId := range messageIds {
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-ID", "<"+messageId+">")

		uids, err := c.UidSearch(criteria)
		if err != nil {
			return nil, err
		}
		seqSet.AddNum(uids...)
	}

	if seqSet.Empty() {
		return nil, nil
	}
	return fetchByUid(c, seqSet)
}

// SortThread removes duplicates by Message-ID, or by uid when there is none, and orders
// the rest ascending by receive time. Messages without a time come first.
func SortThread(messages []*dto.MailMessage) []*dto.MailMessage {
	seen := make(map[string]struct{}, len(messages))
	unique := make([]*dto.MailMessage, 0, len(messages))

	for _, m := range messages {
		if m == nil {
			continue
		}
		key := m.MessageId
		if key == "" {
			key = fmt.Sprintf("uid:%d", m.Uid)
		}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, m)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return receivedAtOrZero(unique[i]).Before(receivedAtOrZero(unique[j]))
	})
	return unique
}

// ThreadMessages tags each message as internal when it was sent by userAddress.
func ThreadMessages(userAddress string, thread []*dto.MailMessage) []dto.ThreadMessage {
	result := make([]dto.ThreadMessage, 0, len(thread))
	for _, m := range thread {
		body, err := CleanedText(m.Raw)
		if err != nil || body == "" {
			body = strings.TrimSpace(RemoveQuotedLines(m.Text))
		}
		result = append(result, dto.ThreadMessage{
			Internal:   strings.EqualFold(m.FromAddress, userAddress),
			ReceivedAt: m.ReceivedAt,
			Body:       body,
		})
	}
	return result
}

// BuildThreadBody renders the thread in the prompt format of the generation backend.
func BuildThreadBody(userAddress string, thread []*dto.MailMessage) string {
	var sb strings.Builder
	for i, m := range ThreadMessages(userAddress, thread) {
		from := "Customer (External)"
		if m.Internal {
			from = "Employee (Internal)"
		}

		receivedAt := ""
		if !m.ReceivedAt.IsZero() {
			receivedAt = m.ReceivedAt.UTC().Format(time.RFC3339)
		}

		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Message %d\nFrom: %s\nReceived at: %s\nBody:\n%s", i+1, from, receivedAt, m.Body)
	}
	return sb.String()
}
