package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/service"
	"github.com/sefisk/10minutemail/internal/storage"
	httpresp "github.com/sefisk/10minutemail/internal/transport/http"
)

// authStubStore 认证状态机测试用的存储替身。
type authStubStore struct {
	storage.Store

	tokens  map[string]*domain.Token
	inboxes map[string]*domain.Inbox
}

func (s *authStubStore) CreateToken(token *domain.Token) error {
	s.tokens[token.TokenHash] = token
	return nil
}

func (s *authStubStore) GetTokenByHash(hash string) (*domain.Token, *domain.Inbox, error) {
	token, ok := s.tokens[hash]
	if !ok {
		return nil, nil, storage.ErrTokenNotFound
	}
	return token, s.inboxes[token.InboxID], nil
}

func setupAuthRouter(t *testing.T) (*gin.Engine, *authStubStore, *service.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	httpresp.ConfigureErrors(false)

	store := &authStubStore{
		tokens:  make(map[string]*domain.Token),
		inboxes: make(map[string]*domain.Inbox),
	}
	tokens := service.NewTokenService(store, config.TokenConfig{
		Secret:     "middleware-test-signing-secret-01234",
		DefaultTTL: 600 * time.Second,
		MaxTTL:     168 * time.Hour,
	}, zap.NewNop())

	ta := NewTokenAuth(tokens, zap.NewNop())
	router := gin.New()
	router.GET("/v1/inboxes/:id/messages", ta.RequireToken(), func(c *gin.Context) {
		inbox := InboxFrom(c)
		c.JSON(http.StatusOK, gin.H{"inbox_id": inbox.ID})
	})
	return router, store, tokens
}

func doAuthRequest(router *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body httpresp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestTokenAuthHappyPath(t *testing.T) {
	router, store, tokens := setupAuthRouter(t)
	store.inboxes["in-1"] = &domain.Inbox{ID: "in-1", Status: domain.InboxStatusActive}

	raw, _, err := tokens.Issue("in-1", 0, "")
	require.NoError(t, err)

	w := doAuthRequest(router, "/v1/inboxes/in-1/messages", "Bearer "+raw)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "in-1")
}

func TestTokenAuthMissingHeader(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	w := doAuthRequest(router, "/v1/inboxes/in-1/messages", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTHENTICATION_ERROR", errorCode(t, w))

	// Bearer 之外的形式同样拒绝
	w = doAuthRequest(router, "/v1/inboxes/in-1/messages", "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenAuthUnknownToken(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	w := doAuthRequest(router, "/v1/inboxes/in-1/messages", "Bearer never-issued")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTHENTICATION_ERROR", errorCode(t, w))
}

func TestTokenAuthRevoked(t *testing.T) {
	router, store, tokens := setupAuthRouter(t)
	store.inboxes["in-1"] = &domain.Inbox{ID: "in-1", Status: domain.InboxStatusActive}

	raw, token, err := tokens.Issue("in-1", 0, "")
	require.NoError(t, err)
	token.Status = domain.TokenStatusRevoked

	w := doAuthRequest(router, "/v1/inboxes/in-1/messages", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTHENTICATION_ERROR", errorCode(t, w))
}

func TestTokenAuthExpired(t *testing.T) {
	router, store, tokens := setupAuthRouter(t)
	store.inboxes["in-1"] = &domain.Inbox{ID: "in-1", Status: domain.InboxStatusActive}

	raw, token, err := tokens.Issue("in-1", 0, "")
	require.NoError(t, err)
	token.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	w := doAuthRequest(router, "/v1/inboxes/in-1/messages", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenAuthInactiveInbox(t *testing.T) {
	router, store, tokens := setupAuthRouter(t)
	store.inboxes["in-1"] = &domain.Inbox{ID: "in-1", Status: domain.InboxStatusSuspended}

	raw, _, err := tokens.Issue("in-1", 0, "")
	require.NoError(t, err)

	w := doAuthRequest(router, "/v1/inboxes/in-1/messages", "Bearer "+raw)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTHORIZATION_ERROR", errorCode(t, w))
}

func TestTokenAuthPathMismatch(t *testing.T) {
	router, store, tokens := setupAuthRouter(t)
	store.inboxes["in-1"] = &domain.Inbox{ID: "in-1", Status: domain.InboxStatusActive}

	raw, _, err := tokens.Issue("in-1", 0, "")
	require.NoError(t, err)

	// 令牌有效，但路径指向别的邮箱
	w := doAuthRequest(router, "/v1/inboxes/in-2/messages", "Bearer "+raw)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTHORIZATION_ERROR", errorCode(t, w))
}
