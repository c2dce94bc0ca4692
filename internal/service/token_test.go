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

// stubTokenStore 只实现令牌路径用到的方法，其余方法走嵌入接口
// （调用即 panic，暴露测试未覆盖的依赖）。
type stubTokenStore struct {
	storage.Store

	tokens  map[string]*domain.Token // key: token hash
	inboxes map[string]*domain.Inbox
}

func newStubTokenStore() *stubTokenStore {
	return &stubTokenStore{
		tokens:  make(map[string]*domain.Token),
		inboxes: make(map[string]*domain.Inbox),
	}
}

func (s *stubTokenStore) CreateToken(token *domain.Token) error {
	s.tokens[token.TokenHash] = token
	return nil
}

func (s *stubTokenStore) GetTokenByHash(hash string) (*domain.Token, *domain.Inbox, error) {
	token, ok := s.tokens[hash]
	if !ok {
		return nil, nil, storage.ErrTokenNotFound
	}
	inbox, ok := s.inboxes[token.InboxID]
	if !ok {
		return token, nil, storage.ErrInboxNotFound
	}
	return token, inbox, nil
}

func (s *stubTokenStore) RotateToken(inboxID string, fresh *domain.Token, now time.Time) error {
	for _, t := range s.tokens {
		if t.InboxID == inboxID && t.Status == domain.TokenStatusActive {
			t.Status = domain.TokenStatusRevoked
			t.RevokedAt = &now
		}
	}
	s.tokens[fresh.TokenHash] = fresh
	return nil
}

func (s *stubTokenStore) SweepExpiredTokens(now time.Time) (int64, error) {
	var n int64
	for _, t := range s.tokens {
		if t.Status == domain.TokenStatusActive && t.ExpiresAt.Before(now) {
			t.Status = domain.TokenStatusExpired
			n++
		}
	}
	return n, nil
}

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		Secret:     "unit-test-signing-secret-0123456789",
		DefaultTTL: 600 * time.Second,
		MaxTTL:     168 * time.Hour,
	}
}

func activeInbox(id string) *domain.Inbox {
	return &domain.Inbox{ID: id, Status: domain.InboxStatusActive}
}

func TestTokenIssueAndAuthenticate(t *testing.T) {
	store := newStubTokenStore()
	store.inboxes["in-1"] = activeInbox("in-1")
	svc := NewTokenService(store, testTokenConfig(), zap.NewNop())

	raw, token, err := svc.Issue("in-1", 0, "198.51.100.7")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	// 库里只有哈希，绝无原始令牌
	assert.Len(t, token.TokenHash, 64)
	assert.NotEqual(t, raw, token.TokenHash)
	assert.Equal(t, crypto.HashToken(raw), token.TokenHash)
	for hash := range store.tokens {
		assert.NotEqual(t, raw, hash)
	}

	gotToken, gotInbox, err := svc.Authenticate(raw)
	require.NoError(t, err)
	assert.Equal(t, token.ID, gotToken.ID)
	assert.Equal(t, "in-1", gotInbox.ID)
}

func TestTokenAuthenticateUnknown(t *testing.T) {
	svc := NewTokenService(newStubTokenStore(), testTokenConfig(), zap.NewNop())

	_, _, err := svc.Authenticate("never-issued")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthentication))
}

func TestTokenRotateInvalidatesOld(t *testing.T) {
	store := newStubTokenStore()
	store.inboxes["in-1"] = activeInbox("in-1")
	svc := NewTokenService(store, testTokenConfig(), zap.NewNop())

	oldRaw, _, err := svc.Issue("in-1", 0, "")
	require.NoError(t, err)

	newRaw, _, err := svc.Rotate("in-1", 0, "")
	require.NoError(t, err)
	assert.NotEqual(t, oldRaw, newRaw)

	// 旧令牌被吊销
	_, _, err = svc.Authenticate(oldRaw)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthentication))

	// 新令牌可用
	_, inbox, err := svc.Authenticate(newRaw)
	require.NoError(t, err)
	assert.Equal(t, "in-1", inbox.ID)

	// 轮换后邮箱只保留一张活动令牌
	active := 0
	for _, token := range store.tokens {
		if token.Status == domain.TokenStatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestTokenAuthenticateExpired(t *testing.T) {
	store := newStubTokenStore()
	store.inboxes["in-1"] = activeInbox("in-1")
	svc := NewTokenService(store, testTokenConfig(), zap.NewNop())

	raw, token, err := svc.Issue("in-1", 0, "")
	require.NoError(t, err)

	// 清扫可能滞后，线上校验自行比较 expires_at
	token.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, _, err = svc.Authenticate(raw)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthentication))
}

func TestTokenAuthenticateInactiveInbox(t *testing.T) {
	store := newStubTokenStore()
	store.inboxes["in-1"] = &domain.Inbox{ID: "in-1", Status: domain.InboxStatusSuspended}
	svc := NewTokenService(store, testTokenConfig(), zap.NewNop())

	raw, _, err := svc.Issue("in-1", 0, "")
	require.NoError(t, err)

	_, _, err = svc.Authenticate(raw)
	require.Error(t, err)
	// 身份可证明但邮箱不可用：授权错误而非认证错误
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}

func TestTokenSweep(t *testing.T) {
	store := newStubTokenStore()
	store.inboxes["in-1"] = activeInbox("in-1")
	svc := NewTokenService(store, testTokenConfig(), zap.NewNop())

	raw, token, err := svc.Issue("in-1", 0, "")
	require.NoError(t, err)
	token.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	swept, err := svc.Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
	assert.Equal(t, domain.TokenStatusExpired, store.tokens[crypto.HashToken(raw)].Status)
}

func TestTokenTTLClamp(t *testing.T) {
	store := newStubTokenStore()
	store.inboxes["in-1"] = activeInbox("in-1")
	cfg := testTokenConfig()
	svc := NewTokenService(store, cfg, zap.NewNop())

	_, token, err := svc.Issue("in-1", 90*24*time.Hour, "")
	require.NoError(t, err)
	// 超过上限收敛到 MaxTTL
	assert.WithinDuration(t, time.Now().UTC().Add(cfg.MaxTTL), token.ExpiresAt, time.Minute)

	_, token, err = svc.Issue("in-1", 0, "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(cfg.DefaultTTL), token.ExpiresAt, time.Minute)
}
