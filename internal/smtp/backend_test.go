package smtp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/cache"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/mailparse"
)

// fakeLister 固定域名集合。
type fakeLister struct {
	domains []domain.MailDomain
}

func (f *fakeLister) ListDomains(activeOnly bool) ([]domain.MailDomain, error) {
	return f.domains, nil
}

// fakeInboxStore 接收路径的存储替身。
type fakeInboxStore struct {
	inboxes   map[string]*domain.Inbox // key: lowercase email
	inserted  map[string][]*domain.Message
	insertErr map[string]error
}

func newFakeInboxStore() *fakeInboxStore {
	return &fakeInboxStore{
		inboxes:   make(map[string]*domain.Inbox),
		inserted:  make(map[string][]*domain.Message),
		insertErr: make(map[string]error),
	}
}

func (f *fakeInboxStore) GetActiveInboxByEmail(email string) (*domain.Inbox, error) {
	inbox, ok := f.inboxes[strings.ToLower(email)]
	if !ok {
		return nil, errors.New("inbox not found")
	}
	return inbox, nil
}

func (f *fakeInboxStore) InsertMessages(inboxID string, msgs []*domain.Message) (int, error) {
	if err, ok := f.insertErr[inboxID]; ok {
		return 0, err
	}
	f.inserted[inboxID] = append(f.inserted[inboxID], msgs...)
	return len(msgs), nil
}

func testBackend(t *testing.T, store *fakeInboxStore, domains ...domain.MailDomain) *Backend {
	t.Helper()
	dc := cache.NewDomainCache(&fakeLister{domains: domains}, zap.NewNop())
	require.NoError(t, dc.Refresh())

	parser := mailparse.NewParser(mailparse.Limits{}, zap.NewNop())
	return NewBackend(store, parser, dc, nil, nil, config.SMTPConfig{
		Domain:          "local.example",
		MaxMessageBytes: 1 << 20,
		MaxRecipients:   50,
	}, zap.NewNop())
}

func newSession(t *testing.T, b *Backend) *session {
	t.Helper()
	s, err := b.NewSession(nil)
	require.NoError(t, err)
	return s.(*session)
}

func localDomain(name string) domain.MailDomain {
	return domain.MailDomain{ID: "d-" + name, Domain: name, IsLocal: true, IsActive: true}
}

func TestRcptUnknownDomainRejectsRelay(t *testing.T) {
	b := testBackend(t, newFakeInboxStore(), localDomain("local.example"))
	s := newSession(t, b)

	err := s.Rcpt("a@not-local.example", nil)
	require.Error(t, err)
	var se *gosmtp.SMTPError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 550, se.Code)
	assert.Contains(t, se.Message, "Relay access denied")
}

func TestRcptUnknownRecipientRejected(t *testing.T) {
	b := testBackend(t, newFakeInboxStore(), localDomain("local.example"))
	s := newSession(t, b)

	err := s.Rcpt("nobody@local.example", nil)
	require.Error(t, err)
	var se *gosmtp.SMTPError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 550, se.Code)
	assert.Contains(t, se.Message, "Unknown recipient")
}

func TestRcptCaseInsensitiveMatch(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	b := testBackend(t, store, localDomain("local.example"))
	s := newSession(t, b)

	require.NoError(t, s.Rcpt("<Alice@LOCAL.example>", nil))
	require.Len(t, s.recipients, 1)
	assert.Equal(t, "alice@local.example", s.recipients[0].address)
	assert.Equal(t, "in-alice", s.recipients[0].inboxID)
}

func TestRcptMalformedAddress(t *testing.T) {
	b := testBackend(t, newFakeInboxStore(), localDomain("local.example"))
	s := newSession(t, b)

	for _, addr := range []string{"no-at-sign", "@local.example", "a@"} {
		err := s.Rcpt(addr, nil)
		var se *gosmtp.SMTPError
		require.ErrorAs(t, err, &se, addr)
		assert.Equal(t, 501, se.Code)
	}
}

func testMail(subject string) []byte {
	return []byte("From: sender@remote.example\r\n" +
		"To: alice@local.example\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		"hello from smtp\r\n")
}

func TestDataDeliversToRecipient(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	b := testBackend(t, store, localDomain("local.example"))
	s := newSession(t, b)

	require.NoError(t, s.Mail("sender@remote.example", nil))
	require.NoError(t, s.Rcpt("alice@local.example", nil))
	require.NoError(t, s.Data(bytes.NewReader(testMail("hi"))))

	msgs := store.inserted["in-alice"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Subject)
	assert.True(t, strings.HasPrefix(msgs[0].UID, "smtp-"))
}

func TestDataBestEffortPerRecipient(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	store.inboxes["bob@local.example"] = &domain.Inbox{ID: "in-bob", Status: domain.InboxStatusActive}
	store.insertErr["in-bob"] = errors.New("disk full")
	b := testBackend(t, store, localDomain("local.example"))
	s := newSession(t, b)

	require.NoError(t, s.Rcpt("alice@local.example", nil))
	require.NoError(t, s.Rcpt("bob@local.example", nil))

	// 至少一个成功即回 OK
	require.NoError(t, s.Data(bytes.NewReader(testMail("fanout"))))
	assert.Len(t, store.inserted["in-alice"], 1)
	assert.Empty(t, store.inserted["in-bob"])
}

func TestDataAllRecipientsFailedIsHardFailure(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	store.insertErr["in-alice"] = errors.New("disk full")
	b := testBackend(t, store, localDomain("local.example"))
	s := newSession(t, b)

	require.NoError(t, s.Rcpt("alice@local.example", nil))

	err := s.Data(bytes.NewReader(testMail("doomed")))
	var se *gosmtp.SMTPError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 451, se.Code)
}

func TestDataOversizeRejected(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	b := testBackend(t, store, localDomain("local.example"))
	b.cfg.MaxMessageBytes = 64
	s := newSession(t, b)

	require.NoError(t, s.Rcpt("alice@local.example", nil))

	big := append(testMail("big"), bytes.Repeat([]byte("x"), 128)...)
	err := s.Data(bytes.NewReader(big))
	var se *gosmtp.SMTPError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 552, se.Code)
	assert.Empty(t, store.inserted["in-alice"])
}

func TestSameParsedMessageFansOutWithFreshIDs(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	store.inboxes["bob@local.example"] = &domain.Inbox{ID: "in-bob", Status: domain.InboxStatusActive}
	b := testBackend(t, store, localDomain("local.example"))
	s := newSession(t, b)

	require.NoError(t, s.Rcpt("alice@local.example", nil))
	require.NoError(t, s.Rcpt("bob@local.example", nil))
	require.NoError(t, s.Data(bytes.NewReader(testMail("shared"))))

	a := store.inserted["in-alice"][0]
	bb := store.inserted["in-bob"][0]
	assert.NotEqual(t, a.ID, bb.ID)
	// 同一封邮件投给多个本地邮箱时共享 UID
	assert.Equal(t, a.UID, bb.UID)
}

func TestReset(t *testing.T) {
	store := newFakeInboxStore()
	store.inboxes["alice@local.example"] = &domain.Inbox{ID: "in-alice", Status: domain.InboxStatusActive}
	b := testBackend(t, store, localDomain("local.example"))
	s := newSession(t, b)

	require.NoError(t, s.Mail("x@y.z", nil))
	require.NoError(t, s.Rcpt("alice@local.example", nil))
	s.Reset()
	assert.Empty(t, s.fromAddress)
	assert.Empty(t, s.recipients)
}
