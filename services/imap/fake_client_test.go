package imap

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/customeros/mailflow/internal/logger"
)

type appended struct {
	folder string
	flags  []string
	raw    []byte
}

// fakeClient is an in-memory IMAP server holding one account.
type fakeClient struct {
	mu sync.Mutex

	state        imap.ConnState
	mailbox      *imap.MailboxStatus
	supportsMove bool
	folders      []*imap.MailboxInfo
	// folder -> uid -> raw message
	messages map[string]map[uint32][]byte
	uidNext  map[string]uint32

	idleEntered chan struct{}
	idleErr     error
	selectErr   error
	calls       []string
	flags       map[uint32][]interface{}
	appended    []appended
	loggedOut   bool
}

func newFakeClient(folders ...*imap.MailboxInfo) *fakeClient {
	if len(folders) == 0 {
		folders = []*imap.MailboxInfo{{Name: InboxFolder}}
	}
	return &fakeClient{
		state:       imap.AuthenticatedState,
		folders:     folders,
		messages:    map[string]map[uint32][]byte{},
		uidNext:     map[string]uint32{},
		idleEntered: make(chan struct{}, 10),
		flags:       map[uint32][]interface{}{},
	}
}

func (f *fakeClient) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeClient) deliver(folder string, raw string) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages[folder] == nil {
		f.messages[folder] = map[uint32][]byte{}
	}
	uid := f.uidNext[folder]
	if uid == 0 {
		uid = 1
	}
	f.messages[folder][uid] = []byte(raw)
	f.uidNext[folder] = uid + 1
	return uid
}

func (f *fakeClient) State() imap.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) Mailbox() *imap.MailboxStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mailbox
}

func (f *fakeClient) Support(capability string) (bool, error) {
	return capability == "MOVE" && f.supportsMove, nil
}

func (f *fakeClient) Noop() error {
	return nil
}

func (f *fakeClient) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LOGOUT")
	f.loggedOut = true
	f.state = imap.LogoutState
	return nil
}

func (f *fakeClient) Terminate() error {
	return f.Logout()
}

func (f *fakeClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SELECT " + name)
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	uidNext := f.uidNext[name]
	if uidNext == 0 {
		uidNext = 1
	}
	f.mailbox = &imap.MailboxStatus{
		Name:     name,
		ReadOnly: readOnly,
		Messages: uint32(len(f.messages[name])),
		UidNext:  uidNext,
	}
	f.state = imap.SelectedState
	return f.mailbox, nil
}

func (f *fakeClient) Create(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CREATE " + name)
	f.folders = append(f.folders, &imap.MailboxInfo{Name: name})
	return nil
}

func (f *fakeClient) Subscribe(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SUBSCRIBE " + name)
	return nil
}

func (f *fakeClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	f.mu.Lock()
	folders := append([]*imap.MailboxInfo{}, f.folders...)
	f.mu.Unlock()

	for _, folder := range folders {
		if name == "*" || strings.EqualFold(folder.Name, name) {
			ch <- folder
		}
	}
	return nil
}

func (f *fakeClient) Append(mbox string, flags []string, date time.Time, msg imap.Literal) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(msg); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("APPEND " + mbox)
	f.appended = append(f.appended, appended{folder: mbox, flags: flags, raw: buf.Bytes()})
	return nil
}

func (f *fakeClient) Idle(stop <-chan struct{}, opts *client.IdleOptions) error {
	f.mu.Lock()
	f.record("IDLE")
	err := f.idleErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case f.idleEntered <- struct{}{}:
	default:
	}
	<-stop
	return nil
}

func (f *fakeClient) Expunge(ch chan uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("EXPUNGE")
	folder := f.selected()
	for uid, flags := range f.flags {
		for _, flag := range flags {
			if flag == imap.DeletedFlag {
				delete(f.messages[folder], uid)
			}
		}
	}
	return nil
}

func (f *fakeClient) selected() string {
	if f.mailbox == nil {
		return ""
	}
	return f.mailbox.Name
}

func (f *fakeClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UID SEARCH " + f.selected())

	wanted := criteria.Header.Get("Message-ID")
	var uids []uint32
	for uid, raw := range f.messages[f.selected()] {
		if wanted != "" && strings.Contains(string(raw), "Message-ID: "+wanted) {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (f *fakeClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	f.mu.Lock()
	folder := f.selected()
	var found []*imap.Message
	for uid, raw := range f.messages[folder] {
		if !seqset.Contains(uid) && !(seqset.Dynamic() && uid >= maxUid(f.messages[folder])) {
			continue
		}
		found = append(found, &imap.Message{
			Uid:          uid,
			InternalDate: time.Date(2026, 1, 1, 0, 0, int(uid), 0, time.UTC),
			Body: map[*imap.BodySectionName]imap.Literal{
				{}: bytes.NewBuffer(append([]byte{}, raw...)),
			},
		})
	}
	f.record("UID FETCH " + folder)
	f.mu.Unlock()

	sort.Slice(found, func(i, j int) bool { return found[i].Uid < found[j].Uid })
	for _, m := range found {
		ch <- m
	}
	return nil
}

func maxUid(messages map[uint32][]byte) uint32 {
	var highest uint32
	for uid := range messages {
		if uid > highest {
			highest = uid
		}
	}
	return highest
}

func (f *fakeClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UID STORE " + string(item))
	for _, set := range seqset.Set {
		for uid := set.Start; uid <= set.Stop; uid++ {
			f.flags[uid] = append(f.flags[uid], value.([]interface{})...)
		}
	}
	return nil
}

func (f *fakeClient) UidCopy(seqset *imap.SeqSet, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UID COPY " + dest)
	return nil
}

func (f *fakeClient) UidMove(seqset *imap.SeqSet, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UID MOVE " + dest)
	return nil
}

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func newTestSession(c *fakeClient) *Session {
	return newSession(c, nil, testLogger(), "[test]")
}

func rawMessage(messageId, from, subject, body string, extraHeaders ...string) string {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: user@example.com\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Message-ID: <" + messageId + ">\r\n")
	sb.WriteString("Date: Mon, 05 Jan 2026 10:00:00 +0000\r\n")
	for _, h := range extraHeaders {
		sb.WriteString(h + "\r\n")
	}
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(body + "\r\n")
	return sb.String()
}
