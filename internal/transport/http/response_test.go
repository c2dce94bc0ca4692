package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefisk/10minutemail/internal/apperrors"
)

func writeErr(t *testing.T, err error, production bool) (int, ErrorResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ConfigureErrors(production)
	defer ConfigureErrors(false)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	WriteError(c, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.Validationf("bad input"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{apperrors.Authenticationf("no token"), http.StatusUnauthorized, "AUTHENTICATION_ERROR"},
		{apperrors.Authorizationf("not yours"), http.StatusForbidden, "AUTHORIZATION_ERROR"},
		{apperrors.NotFoundf("gone"), http.StatusNotFound, "NOT_FOUND"},
		{apperrors.Conflictf("exists"), http.StatusConflict, "CONFLICT"},
		{apperrors.New(apperrors.KindRateLimit, "slow down"), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{apperrors.New(apperrors.KindPOP3, "upstream broke"), http.StatusBadGateway, "POP3_ERROR"},
		{apperrors.New(apperrors.KindEncryption, "bad blob"), http.StatusInternalServerError, "ENCRYPTION_ERROR"},
		{errors.New("plain error"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		status, body := writeErr(t, tc.err, false)
		assert.Equal(t, tc.status, status, tc.code)
		assert.Equal(t, tc.code, body.Error.Code)
	}
}

func TestInternalErrorMaskedInProduction(t *testing.T) {
	err := errors.New("pq: secret dsn leaked")

	_, body := writeErr(t, err, true)
	assert.Equal(t, "internal error", body.Error.Message)

	// 开发环境披露底层消息
	_, body = writeErr(t, err, false)
	assert.Contains(t, body.Error.Message, "secret dsn leaked")
}
