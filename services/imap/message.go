package imap

import (
	"bytes"
	"io"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/internal/utils"
)

var peekSection = &imap.BodySectionName{Peek: true}

// fetchItems never sets \Seen: the full body is read with BODY.PEEK[].
func fetchItems() []imap.FetchItem {
	return []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		peekSection.FetchItem(),
	}
}

// fetchByUid fetches and parses the messages of the currently selected folder, ordered by uid.
func fetchByUid(c Client, seqSet *imap.SeqSet) ([]*dto.MailMessage, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, fetchItems(), messages)
	}()

	var (
		result   []*dto.MailMessage
		parseErr error
	)
	for msg := range messages {
		parsed, err := parseMessage(msg)
		if err != nil {
			if parseErr == nil {
				parseErr = err
			}
			continue
		}
		result = append(result, parsed)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	if len(result) == 0 && parseErr != nil {
		return nil, parseErr
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Uid < result[j].Uid })
	return result, nil
}

// fetchNewerThan returns INBOX messages with uid > lastUid. "n:*" always matches the
// newest message, so lower uids are filtered out.
func fetchNewerThan(c Client, lastUid uint32) ([]*dto.MailMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lastUid+1, 0)

	messages, err := fetchByUid(c, seqSet)
	if err != nil {
		return nil, err
	}

	newer := messages[:0]
	for _, m := range messages {
		if m.Uid > lastUid {
			newer = append(newer, m)
		}
	}
	return newer, nil
}

func parseMessage(msg *imap.Message) (*dto.MailMessage, error) {
	if msg == nil {
		return nil, errors.New("nil imap message")
	}

	literal := msg.GetBody(peekSection)
	if literal == nil {
		return nil, errors.Errorf("message %d has no body", msg.Uid)
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read body of message %d", msg.Uid)
	}

	parsed, err := ParseRawMessage(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse message %d", msg.Uid)
	}

	parsed.Uid = msg.Uid
	parsed.SeqNum = msg.SeqNum
	if !msg.InternalDate.IsZero() {
		parsed.ReceivedAt = msg.InternalDate
	}
	if msg.Envelope != nil {
		if parsed.Subject == "" {
			parsed.Subject = msg.Envelope.Subject
		}
		if parsed.MessageId == "" {
			parsed.MessageId = utils.NormalizeMessageID(msg.Envelope.MessageId)
		}
		if parsed.ReceivedAt.IsZero() {
			parsed.ReceivedAt = msg.Envelope.Date
		}
	}
	return parsed, nil
}

// ParseRawMessage reads the headers and bodies of a RFC 5322 message.
func ParseRawMessage(raw []byte) (*dto.MailMessage, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	message := &dto.MailMessage{
		MessageId:  utils.NormalizeMessageID(envelope.GetHeader("Message-ID")),
		InReplyTo:  utils.NormalizeMessageID(envelope.GetHeader("In-Reply-To")),
		References: utils.ParseReferences(envelope.GetHeader("References")),
		Subject:    strings.TrimSpace(envelope.GetHeader("Subject")),
		Raw:        raw,
		Text:       envelope.Text,
		Html:       envelope.HTML,
	}

	if from := addressList(envelope, "From"); len(from) > 0 {
		message.FromAddress = utils.NormalizeEmailAddress(from[0].Address)
		message.FromName = from[0].Name
	}
	message.To = addresses(addressList(envelope, "To"))
	message.Cc = addresses(addressList(envelope, "Cc"))
	message.ReplyTo = addresses(addressList(envelope, "Reply-To"))

	if date, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		message.ReceivedAt = date
	}
	return message, nil
}

func addressList(envelope *enmime.Envelope, header string) []*mail.Address {
	list, err := envelope.AddressList(header)
	if err != nil {
		return nil
	}
	return list
}

func addresses(list []*mail.Address) []string {
	result := make([]string, 0, len(list))
	for _, a := range list {
		if a == nil || a.Address == "" {
			continue
		}
		result = append(result, utils.NormalizeEmailAddress(a.Address))
	}
	return result
}

func receivedAtOrZero(m *dto.MailMessage) time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.ReceivedAt
}
