package imap

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"

	mailflowErrors "github.com/customeros/mailflow/internal/errors"
	"github.com/customeros/mailflow/internal/tracing"
)

const ManualReviewFolder = "_Manual Review"

// listFolders runs LIST and drains the result channel while the command is in flight
func listFolders(c Client, pattern string) ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", pattern, mailboxes)
	}()

	var folders []*imap.MailboxInfo
	for m := range mailboxes {
		folders = append(folders, m)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return folders, nil
}

func sameFolder(a, b string) bool {
	if strings.EqualFold(a, InboxFolder) || strings.EqualFold(b, InboxFolder) {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func findFolderByName(c Client, name string) (string, bool, error) {
	folders, err := listFolders(c, name)
	if err != nil {
		return "", false, err
	}
	for _, f := range folders {
		if sameFolder(f.Name, name) {
			return f.Name, true, nil
		}
	}
	return "", false, nil
}

func findFolderByAttribute(c Client, attribute string) (string, bool, error) {
	folders, err := listFolders(c, "*")
	if err != nil {
		return "", false, err
	}
	for _, f := range folders {
		for _, attr := range f.Attributes {
			if strings.EqualFold(attr, attribute) {
				return f.Name, true, nil
			}
		}
	}
	return "", false, nil
}

func createFolder(c Client, name string) (string, error) {
	existing, found, err := findFolderByName(c, name)
	if err != nil {
		return "", err
	}
	if found {
		return existing, nil
	}

	if err = c.Create(name); err != nil {
		// created concurrently by another client
		if existing, found, listErr := findFolderByName(c, name); listErr == nil && found {
			return existing, nil
		}
		return "", err
	}
	if err = c.Subscribe(name); err != nil {
		return "", err
	}
	return name, nil
}

func uidSet(uid uint32) *imap.SeqSet {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	return seqSet
}

// FolderByAttribute finds a folder by its special-use attribute such as \Sent or \Drafts.
func (s *Session) FolderByAttribute(ctx context.Context, attribute string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.FolderByAttribute")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("folder.attribute", attribute)

	var folder string
	err := s.exec(ctx, func(c Client) error {
		name, found, err := findFolderByAttribute(c, attribute)
		if err != nil {
			return err
		}
		if !found {
			return mailflowErrors.Processing(mailflowErrors.ErrFolderNotFound, false, "no folder with attribute %s", attribute)
		}
		folder = name
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return folder, nil
}

// FolderByName returns found=false without an error when the folder does not exist.
func (s *Session) FolderByName(ctx context.Context, name string) (string, bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.FolderByName")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("folder.name", name)

	var (
		folder string
		found  bool
	)
	err := s.exec(ctx, func(c Client) error {
		var err error
		folder, found, err = findFolderByName(c, name)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", false, err
	}
	return folder, found, nil
}

// CreateFolder creates and subscribes the folder unless it already exists.
func (s *Session) CreateFolder(ctx context.Context, name string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.CreateFolder")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("folder.name", name)

	var folder string
	err := s.exec(ctx, func(c Client) error {
		var err error
		folder, err = createFolder(c, name)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return folder, nil
}

// MoveToFolder moves an INBOX message, creating the target folder on demand.
// Falls back to COPY, \Deleted and EXPUNGE when the server lacks MOVE.
func (s *Session) MoveToFolder(ctx context.Context, uid uint32, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.MoveToFolder")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("folder.name", folder)
	span.SetTag("uid", uid)

	err := s.exec(ctx, func(c Client) error {
		target, err := createFolder(c, folder)
		if err != nil {
			return err
		}

		s.restoreInbox(c)
		seqSet := uidSet(uid)

		supportsMove, err := c.Support("MOVE")
		if err != nil {
			return err
		}
		if supportsMove {
			return c.UidMove(seqSet, target)
		}

		if err = c.UidCopy(seqSet, target); err != nil {
			return err
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err = c.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return err
		}
		return c.Expunge(nil)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *Session) AddFlags(ctx context.Context, uid uint32, flags ...string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.AddFlags")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("uid", uid)

	values := make([]interface{}, 0, len(flags))
	for _, flag := range flags {
		values = append(values, flag)
	}

	err := s.exec(ctx, func(c Client) error {
		s.restoreInbox(c)
		return c.UidStore(uidSet(uid), imap.FormatFlagsOp(imap.AddFlags, true), values, nil)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Append stores a raw RFC 5322 message in the folder with the given flags.
func (s *Session) Append(ctx context.Context, folder string, flags []string, date time.Time, raw []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.Append")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("folder.name", folder)

	if date.IsZero() {
		date = time.Now()
	}

	err := s.exec(ctx, func(c Client) error {
		return c.Append(folder, flags, date, bytes.NewBuffer(raw))
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
