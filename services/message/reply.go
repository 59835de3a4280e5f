package message

import (
	"bytes"
	"context"
	"strings"

	goimap "github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
	"github.com/customeros/mailflow/services/email_filter"
	"github.com/customeros/mailflow/services/smtp"
)

var ErrNoTransport = errors.New("auto reply enabled but no smtp transport open")

// deliverReply sends or drafts the generated body. A blank body escalates the original to manual review.
func (p *Pipeline) deliverReply(
	ctx context.Context,
	user *dto.User,
	userAddress string,
	session interfaces.MailboxSession,
	transport interfaces.MailTransport,
	original *dto.MailMessage,
	body string,
) (Outcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Pipeline.deliverReply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if strings.TrimSpace(body) == "" {
		if !user.Settings.MoveToManualReviewEnabled {
			p.log.Infof("[user:%d] empty reply for uid %d, leaving it in the inbox", user.Id, original.Uid)
			return OutcomeKeptInInbox, nil
		}
		p.log.Infof("[user:%d] empty reply for uid %d, moving to manual review", user.Id, original.Uid)
		if err := p.moveToManualReview(ctx, user, session, original); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		return OutcomeManualReview, nil
	}

	reply, err := BuildReply(user, userAddress, original, body)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	sendable := user.Settings.AutoReplyEnabled
	if verdict := email_filter.Scan(original); sendable && verdict.Automated {
		p.log.Infof("[user:%d] uid %d is automated (%s), drafting instead of sending", user.Id, original.Uid, verdict.Reason)
		span.LogKV("automated", verdict.Reason)
		sendable = false
	}

	if !sendable {
		if err := p.saveDraft(ctx, session, reply); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		p.log.Infof("[user:%d] draft saved for uid %d", user.Id, original.Uid)
		return OutcomeDrafted, nil
	}

	if transport == nil {
		return "", mailflowErrors.Processing(ErrNoTransport, true, "cannot send reply for user %d", user.Id)
	}
	if err := smtp.SendWithRetry(ctx, transport, reply, p.smtpRetryDelay); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to send reply")
	}
	p.log.Infof("[user:%d] reply sent for uid %d", user.Id, original.Uid)

	if err := session.AddFlags(ctx, original.Uid, goimap.AnsweredFlag); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to flag original as answered")
	}
	if err := p.appendTo(ctx, session, goimap.SentAttr, reply, goimap.SeenFlag); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to store sent reply")
	}
	return OutcomeReplied, nil
}

func (p *Pipeline) saveDraft(ctx context.Context, session interfaces.MailboxSession, reply *gomail.Message) error {
	if err := p.appendTo(ctx, session, goimap.DraftsAttr, reply, goimap.DraftFlag); err != nil {
		return errors.Wrap(err, "failed to save draft")
	}
	return nil
}

// appendTo stores the message in the folder carrying the special-use attribute.
func (p *Pipeline) appendTo(ctx context.Context, session interfaces.MailboxSession, attribute string, message *gomail.Message, flags ...string) error {
	folder, err := session.FolderByAttribute(ctx, attribute)
	if err != nil {
		return err
	}
	raw, err := render(message)
	if err != nil {
		return err
	}
	return session.Append(ctx, folder, flags, utils.Now(), raw)
}

func render(message *gomail.Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := message.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to render message")
	}
	return buf.Bytes(), nil
}

// BuildReply builds a reply-all to original from the user: To is Reply-To or From, Cc the remaining
// recipients without the user.
func BuildReply(user *dto.User, userAddress string, original *dto.MailMessage, body string) (*gomail.Message, error) {
	if original == nil {
		return nil, mailflowErrors.ErrMessageNil
	}
	userAddress = utils.NormalizeEmailAddress(userAddress)

	to := original.ReplyTo
	if len(to) == 0 && original.FromAddress != "" {
		to = []string{original.FromAddress}
	}
	to = recipientsExcluding(to, nil, userAddress)
	if len(to) == 0 {
		return nil, errors.New("original message has no address to reply to")
	}
	cc := recipientsExcluding(append(append([]string{}, original.To...), original.Cc...), to, userAddress)

	reply := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	reply.SetAddressHeader("From", userAddress, strings.TrimSpace(user.FirstName+" "+user.LastName))
	reply.SetHeader("To", to...)
	if len(cc) > 0 {
		reply.SetHeader("Cc", cc...)
	}
	reply.SetHeader("Subject", utils.ReplySubject(original.Subject))
	reply.SetHeader("Message-ID", utils.GenerateMessageID(utils.ExtractDomainFromEmail(userAddress), original.MessageId))

	if id := utils.NormalizeMessageID(original.MessageId); id != "" {
		reply.SetHeader("In-Reply-To", "<"+id+">")
		reply.SetHeader("References", formatReferences(append(append([]string{}, original.References...), id)))
	}

	reply.SetBody("text/html", body)
	return reply, nil
}

func recipientsExcluding(addresses, exclude []string, userAddress string) []string {
	var result []string
	for _, address := range addresses {
		normalized := utils.NormalizeEmailAddress(address)
		if normalized == "" || normalized == userAddress {
			continue
		}
		if utils.ContainsIgnoreCase(exclude, normalized) || utils.ContainsIgnoreCase(result, normalized) {
			continue
		}
		result = append(result, normalized)
	}
	return result
}

func formatReferences(references []string) string {
	ids := make([]string, 0, len(references))
	for _, ref := range utils.UniqueStrings(references) {
		if ref = utils.NormalizeMessageID(ref); ref != "" {
			ids = append(ids, "<"+ref+">")
		}
	}
	return strings.Join(ids, " ")
}
