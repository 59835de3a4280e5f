package smtp

import (
	"context"
	"crypto/tls"
	"net/textproto"
	"sync"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"

	"github.com/customeros/mailflow/interfaces"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
)

const implicitTLSPort = 465

var ErrNoRecipients = errors.New("message has no valid recipients")

type sendCloserDialer interface {
	Dial() (gomail.SendCloser, error)
}

// Transport keeps one SMTP session open for a mailbox. A dropped session is redialled once per send.
type Transport struct {
	dialer sendCloserDialer

	mu     sync.Mutex
	sender gomail.SendCloser
}

// Dial opens the SMTP session. Port 465 uses implicit TLS, other ports STARTTLS.
func Dial(host string, port int, username, password string) (interfaces.MailTransport, error) {
	dialer := gomail.NewDialer(host, port, username, password)
	dialer.SSL = port == implicitTLSPort
	dialer.TLSConfig = &tls.Config{ServerName: host}

	return newTransport(dialer)
}

func newTransport(dialer sendCloserDialer) (*Transport, error) {
	sender, err := dialer.Dial()
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial smtp server")
	}
	return &Transport{dialer: dialer, sender: sender}, nil
}

func (t *Transport) Send(ctx context.Context, message *gomail.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SmtpTransport.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	from, recipients, err := envelope(message)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("recipients", len(recipients))

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sender == nil {
		if t.sender, err = t.dialer.Dial(); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrap(err, "failed to dial smtp server")
		}
	}

	err = t.sender.Send(from, recipients, message)
	if err == nil || IsTemporaryFailure(err) || isPermanentFailure(err) {
		tracing.TraceErr(span, err)
		return err
	}

	// the server dropped the idle session
	_ = t.sender.Close()
	t.sender = nil
	if t.sender, err = t.dialer.Dial(); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to redial smtp server")
	}
	err = t.sender.Send(from, recipients, message)
	tracing.TraceErr(span, err)
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sender == nil {
		return nil
	}
	err := t.sender.Close()
	t.sender = nil
	return err
}

func envelope(message *gomail.Message) (string, []string, error) {
	fromHeader := message.GetHeader("From")
	if len(fromHeader) == 0 {
		return "", nil, errors.New("message has no sender")
	}
	from := utils.ExtractEmailAddress(fromHeader[0])
	if !mailvalidate.ValidateEmailSyntax(from).IsValid {
		return "", nil, errors.Errorf("invalid sender address %s", from)
	}

	var recipients []string
	for _, field := range []string{"To", "Cc", "Bcc"} {
		for _, value := range message.GetHeader(field) {
			address := utils.ExtractEmailAddress(value)
			if address == "" || utils.ContainsIgnoreCase(recipients, address) {
				continue
			}
			if mailvalidate.ValidateEmailSyntax(address).IsValid {
				recipients = append(recipients, address)
			}
		}
	}
	if len(recipients) == 0 {
		return "", nil, ErrNoRecipients
	}
	return from, recipients, nil
}

func smtpCode(err error) int {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}
	return 0
}

// IsTemporaryFailure reports a 4xx SMTP reply.
func IsTemporaryFailure(err error) bool {
	code := smtpCode(err)
	return code >= 400 && code < 500
}

func isPermanentFailure(err error) bool {
	code := smtpCode(err)
	return code >= 500 && code < 600
}

// SendWithRetry sends once more after delay when the first attempt got a 4xx reply.
func SendWithRetry(ctx context.Context, transport interfaces.MailTransport, message *gomail.Message, delay time.Duration) error {
	err := transport.Send(ctx, message)
	if err == nil || !IsTemporaryFailure(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	return transport.Send(ctx, message)
}
