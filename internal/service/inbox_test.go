package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/crypto"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// stubInboxStore 邮箱路径的存储替身。
type stubInboxStore struct {
	storage.Store

	inboxes  map[string]*domain.Inbox
	domains  []domain.MailDomain
	tokens   []*domain.Token
	audits   []*domain.AuditLog
	cascaded []string
}

func newStubInboxStore() *stubInboxStore {
	return &stubInboxStore{inboxes: make(map[string]*domain.Inbox)}
}

func (s *stubInboxStore) CreateInbox(inbox *domain.Inbox) error {
	for _, existing := range s.inboxes {
		if existing.Email == inbox.Email {
			return storage.ErrEmailExists
		}
	}
	s.inboxes[inbox.ID] = inbox
	return nil
}

func (s *stubInboxStore) GetInbox(id string) (*domain.Inbox, error) {
	inbox, ok := s.inboxes[id]
	if !ok {
		return nil, storage.ErrInboxNotFound
	}
	return inbox, nil
}

func (s *stubInboxStore) GetDomain(id string) (*domain.MailDomain, error) {
	for i := range s.domains {
		if s.domains[i].ID == id {
			return &s.domains[i], nil
		}
	}
	return nil, storage.ErrDomainNotFound
}

func (s *stubInboxStore) ListDomains(activeOnly bool) ([]domain.MailDomain, error) {
	if !activeOnly {
		return s.domains, nil
	}
	var out []domain.MailDomain
	for _, d := range s.domains {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubInboxStore) CreateToken(token *domain.Token) error {
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *stubInboxStore) InsertAuditLog(entry *domain.AuditLog) error {
	s.audits = append(s.audits, entry)
	return nil
}

func (s *stubInboxStore) DeleteInboxCascade(id string) error {
	if _, ok := s.inboxes[id]; !ok {
		return storage.ErrInboxNotFound
	}
	s.cascaded = append(s.cascaded, id)
	s.inboxes[id].Status = domain.InboxStatusDeleted
	s.inboxes[id].EncUsername = ""
	s.inboxes[id].EncPassword = ""
	return nil
}

func (s *stubInboxStore) ListExpiredActiveInboxes(now time.Time) ([]domain.Inbox, error) {
	var out []domain.Inbox
	for _, in := range s.inboxes {
		if in.Status == domain.InboxStatusActive &&
			in.TTLSeconds > 0 &&
			in.CreatedAt.Add(time.Duration(in.TTLSeconds)*time.Second).Before(now) {
			out = append(out, *in)
		}
	}
	return out, nil
}

func testInboxService(t *testing.T, store storage.Store, env string) *InboxService {
	t.Helper()
	cipher, err := crypto.NewCipher("inbox-service-test-key")
	require.NoError(t, err)

	cfg := &config.Config{
		Env: env,
		Token: config.TokenConfig{
			Secret:     "unit-test-signing-secret-0123456789",
			DefaultTTL: 600 * time.Second,
			MaxTTL:     168 * time.Hour,
		},
		Mail: config.MailConfig{InboxTTL: 24 * time.Hour},
	}

	tokens := NewTokenService(store, cfg.Token, zap.NewNop())
	audit := NewAuditService(store, zap.NewNop())
	return NewInboxService(store, cipher, tokens, audit, cfg, zap.NewNop())
}

func TestCreateGeneratedInbox(t *testing.T) {
	store := newStubInboxStore()
	store.domains = []domain.MailDomain{
		{ID: "d-1", Domain: "temp.example", IsLocal: true, IsActive: true},
	}
	svc := testInboxService(t, store, "development")

	result, err := svc.Create(CreateInboxInput{Mode: "generated", IP: "203.0.113.5"})
	require.NoError(t, err)

	inbox := result.Inbox
	assert.Equal(t, domain.InboxTypeGenerated, inbox.Type)
	assert.Equal(t, domain.InboxStatusActive, inbox.Status)
	assert.Regexp(t, `^[a-z0-9]{10}@temp\.example$`, inbox.Email)
	assert.Equal(t, "d-1", *inbox.DomainID)
	assert.NotEmpty(t, result.RawToken)
	assert.NotEmpty(t, result.Password)
	// 本地域名不带 POP3 坐标
	assert.Empty(t, inbox.POP3Host)

	// 凭据加密存放，密钥可还原
	cipher, _ := crypto.NewCipher("inbox-service-test-key")
	password, err := cipher.Decrypt(inbox.EncPassword)
	require.NoError(t, err)
	assert.Equal(t, result.Password, password)

	// 首张令牌已签发
	require.Len(t, store.tokens, 1)
	assert.Equal(t, inbox.ID, store.tokens[0].InboxID)
}

func TestCreateGeneratedInheritsPOP3Coordinates(t *testing.T) {
	store := newStubInboxStore()
	store.domains = []domain.MailDomain{
		{ID: "d-2", Domain: "pulled.example", POP3Host: "pop.provider.example", POP3Port: 995, POP3TLS: true, IsActive: true},
	}
	svc := testInboxService(t, store, "development")

	result, err := svc.Create(CreateInboxInput{Mode: "generated"})
	require.NoError(t, err)
	assert.Equal(t, "pop.provider.example", result.Inbox.POP3Host)
	assert.Equal(t, 995, result.Inbox.POP3Port)
	assert.True(t, result.Inbox.POP3TLS)
}

func TestCreateExternalInbox(t *testing.T) {
	store := newStubInboxStore()
	svc := testInboxService(t, store, "development")

	result, err := svc.Create(CreateInboxInput{
		Mode:     "external",
		Email:    "User@Provider.example",
		POP3Host: "pop.provider.example",
		Username: "user@provider.example",
		Password: "hunter2",
		IP:       "203.0.113.5",
	})
	require.NoError(t, err)

	inbox := result.Inbox
	assert.Equal(t, domain.InboxTypeExternal, inbox.Type)
	assert.Equal(t, "user@provider.example", inbox.Email)
	assert.Equal(t, 995, inbox.POP3Port) // 默认隐式 TLS 端口
	assert.NotEmpty(t, inbox.EncPassword)
	assert.NotEqual(t, "hunter2", inbox.EncPassword)
}

func TestCreateExternalValidation(t *testing.T) {
	svc := testInboxService(t, newStubInboxStore(), "development")

	cases := []CreateInboxInput{
		{Mode: "external"},                                            // 缺 email
		{Mode: "external", Email: "not-an-email"},                     // 无 @
		{Mode: "external", Email: "a@b.c"},                            // 缺 host
		{Mode: "external", Email: "a@b.c", POP3Host: "pop.x.example"}, // 缺凭据
		{Mode: "bogus"},                                               // 未知模式
	}
	for _, input := range cases {
		_, err := svc.Create(input)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	}
}

func TestCreateExternalSSRFGuard(t *testing.T) {
	hosts := []string{"127.0.0.1", "10.0.0.8", "192.168.1.1", "169.254.0.1", "localhost", "db.internal", "0.0.0.0"}

	// 生产环境拒绝内网地址
	prod := testInboxService(t, newStubInboxStore(), "production")
	for _, host := range hosts {
		_, err := prod.Create(CreateInboxInput{
			Mode: "external", Email: "a@b.c", POP3Host: host,
			Username: "u", Password: "p",
		})
		require.Error(t, err, host)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation), host)
	}

	// 开发环境放行
	dev := testInboxService(t, newStubInboxStore(), "development")
	_, err := dev.Create(CreateInboxInput{
		Mode: "external", Email: "a@b.c", POP3Host: "127.0.0.1",
		Username: "u", Password: "p",
	})
	require.NoError(t, err)
}

func TestCreateGeneratedNoDomains(t *testing.T) {
	svc := testInboxService(t, newStubInboxStore(), "development")

	_, err := svc.Create(CreateInboxInput{Mode: "generated"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestDeleteInbox(t *testing.T) {
	store := newStubInboxStore()
	store.domains = []domain.MailDomain{{ID: "d-1", Domain: "temp.example", IsLocal: true, IsActive: true}}
	svc := testInboxService(t, store, "development")

	result, err := svc.Create(CreateInboxInput{Mode: "generated"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(result.Inbox.ID, "203.0.113.5"))
	assert.Equal(t, []string{result.Inbox.ID}, store.cascaded)
	assert.Equal(t, domain.InboxStatusDeleted, store.inboxes[result.Inbox.ID].Status)
	assert.Empty(t, store.inboxes[result.Inbox.ID].EncPassword)

	assert.True(t, apperrors.Is(svc.Delete("missing", ""), apperrors.KindNotFound))
}

func TestExpireInboxes(t *testing.T) {
	store := newStubInboxStore()
	store.domains = []domain.MailDomain{{ID: "d-1", Domain: "temp.example", IsLocal: true, IsActive: true}}
	svc := testInboxService(t, store, "development")

	result, err := svc.Create(CreateInboxInput{Mode: "generated", TTLSeconds: 60})
	require.NoError(t, err)

	// 尚未过期
	count, err := svc.ExpireInboxes()
	require.NoError(t, err)
	assert.Zero(t, count)

	store.inboxes[result.Inbox.ID].CreatedAt = time.Now().UTC().Add(-2 * time.Minute)

	count, err = svc.ExpireInboxes()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.InboxStatusDeleted, store.inboxes[result.Inbox.ID].Status)
}
