package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailflow/dto"
	"github.com/customeros/mailflow/interfaces"
	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/logger"
	"github.com/customeros/mailflow/internal/tracing"
	"github.com/customeros/mailflow/internal/utils"
)

var (
	AllowedImapPorts = []int{993}
	AllowedSmtpPorts = []int{465, 587, 2525}
)

// ValidateSettings rejects settings that must never reach a connection attempt.
func ValidateSettings(user *dto.User) error {
	if user == nil || user.Settings == nil {
		return mailflowErrors.Validation(mailflowErrors.ErrMissingSettings, "settings are missing")
	}
	settings := user.Settings

	if strings.TrimSpace(settings.ImapHost) == "" || strings.TrimSpace(settings.SmtpHost) == "" ||
		settings.ImapPort == 0 || settings.SmtpPort == 0 {
		return mailflowErrors.Validation(mailflowErrors.ErrInvalidSettings, "invalid settings for user %d", user.Id)
	}
	if !containsPort(AllowedImapPorts, settings.ImapPort) || !containsPort(AllowedSmtpPorts, settings.SmtpPort) {
		return mailflowErrors.Validation(mailflowErrors.ErrInvalidPorts,
			"invalid ports for user %d: imap %d, smtp %d", user.Id, settings.ImapPort, settings.SmtpPort)
	}
	return nil
}

func containsPort(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// Connection is an authenticated IMAP session with INBOX selected, plus an SMTP
// transport when auto-reply is enabled. The caller closes it.
type Connection struct {
	UserId       int64
	EmailAddress string
	Session      *Session
	Transport    interfaces.MailTransport

	closeOnce sync.Once
}

// Close aborts IDLE, logs out within DEFAULT_LOGOUT_TIMEOUT and closes the SMTP transport.
// Safe to call more than once.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if c.Session != nil {
			c.Session.Close()
			c.Session.logout()
		}
		if c.Transport != nil {
			_ = c.Transport.Close()
		}
	})
}

// NewConnection wraps an authenticated client. The caller selects INBOX before listening.
func NewConnection(userId int64, emailAddress string, c Client, updates chan client.Update, log logger.Logger) *Connection {
	return &Connection{
		UserId:       userId,
		EmailAddress: emailAddress,
		Session:      newSession(c, updates, log, fmt.Sprintf("[user:%d]", userId)),
	}
}

type SmtpDialer func(host string, port int, username, password string) (interfaces.MailTransport, error)

type imapDialer func(addr string, tlsConfig *tls.Config) (Client, chan client.Update, error)

type ConnectionBuilder struct {
	log       logger.Logger
	decrypter utils.Decrypter
	dialSmtp  SmtpDialer
	dialImap  imapDialer
}

func NewConnectionBuilder(log logger.Logger, decrypter utils.Decrypter, dialSmtp SmtpDialer) *ConnectionBuilder {
	return &ConnectionBuilder{
		log:       log,
		decrypter: decrypter,
		dialSmtp:  dialSmtp,
		dialImap:  dialTLS,
	}
}

func dialTLS(addr string, tlsConfig *tls.Config) (Client, chan client.Update, error) {
	dialer := &net.Dialer{
		Timeout:   DEFAULT_DIAL_TIMEOUT,
		KeepAlive: 30 * time.Second,
	}

	c, err := client.DialWithDialerTLS(dialer, addr, tlsConfig)
	if err != nil {
		return nil, nil, err
	}

	updates := make(chan client.Update, DEFAULT_UPDATES_BUFFER)
	c.Updates = updates

	if _, err = c.Capability(); err != nil {
		_ = c.Logout()
		return nil, nil, errors.Wrap(err, "failed to get capabilities")
	}
	return &loginClient{Client: c}, updates, nil
}

// loginClient applies a timeout to LOGIN only.
type loginClient struct {
	*client.Client
}

func (c *loginClient) login(username, password string) error {
	c.Timeout = DEFAULT_COMMAND_TIMEOUT
	defer func() { c.Timeout = 0 }()
	return c.Login(username, password)
}

type loginer interface {
	login(username, password string) error
}

// Connect opens the IMAP session, verifies INBOX and selects it read-write.
func (b *ConnectionBuilder) Connect(ctx context.Context, user *dto.User) (*Connection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConnectionBuilder.Connect")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	tracing.TagUser(span, user.Id)

	if err := ValidateSettings(user); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	settings := user.Settings
	prefix := fmt.Sprintf("[user:%d]", user.Id)

	emailAddress, err := b.decrypter.Decrypt(user.EmailAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mailflowErrors.Connection(err, "failed to decrypt email address for user %d", user.Id)
	}
	password, err := b.decrypter.Decrypt(settings.MailboxPassword)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mailflowErrors.Connection(err, "failed to decrypt mailbox password for user %d", user.Id)
	}

	serverAddr := fmt.Sprintf("%s:%d", settings.ImapHost, settings.ImapPort)
	span.SetTag("server", serverAddr)

	c, updates, err := b.dialImap(serverAddr, &tls.Config{ServerName: settings.ImapHost})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mailflowErrors.Connection(err, "failed to connect to %s for user %d", serverAddr, user.Id)
	}

	if l, ok := c.(loginer); ok {
		err = l.login(emailAddress, password)
	}
	if err != nil {
		_ = c.Logout()
		tracing.TraceErr(span, err)
		return nil, mailflowErrors.Connection(err, "failed to login to %s for user %d", serverAddr, user.Id)
	}
	b.log.Infof("%s connected and logged in to %s", prefix, serverAddr)

	conn := NewConnection(user.Id, emailAddress, c, updates, b.log)
	session := conn.Session

	if _, found, err := findFolderByName(c, InboxFolder); err != nil || !found {
		_ = c.Logout()
		if err == nil {
			err = mailflowErrors.ErrInboxNotFound
		}
		tracing.TraceErr(span, err)
		return nil, mailflowErrors.Connection(err, "inbox not found for user %d", user.Id)
	}

	if _, err = session.SelectInbox(ctx); err != nil {
		_ = c.Logout()
		tracing.TraceErr(span, err)
		return nil, mailflowErrors.Connection(err, "failed to open inbox for user %d", user.Id)
	}

	// SMTP stays closed unless replies are sent automatically
	if settings.AutoReplyEnabled {
		transport, err := b.dialSmtp(settings.SmtpHost, settings.SmtpPort, emailAddress, password)
		if err != nil {
			conn.Close()
			tracing.TraceErr(span, err)
			return nil, mailflowErrors.Connection(err, "failed to connect to smtp %s:%d for user %d",
				settings.SmtpHost, settings.SmtpPort, user.Id)
		}
		conn.Transport = transport
	}

	return conn, nil
}
