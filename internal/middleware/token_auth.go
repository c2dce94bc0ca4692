package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/service"
	httpresp "github.com/sefisk/10minutemail/internal/transport/http"
)

// 上下文键。
const (
	ContextInbox = "inbox"
	ContextToken = "token"
)

// TokenAuth 邮箱 Bearer Token 认证中间件。
type TokenAuth struct {
	tokens *service.TokenService
	log    *zap.Logger
}

// NewTokenAuth 创建认证中间件。
func NewTokenAuth(tokens *service.TokenService, log *zap.Logger) *TokenAuth {
	return &TokenAuth{tokens: tokens, log: log}
}

// RequireToken 执行请求级认证状态机。
//
// 依次拒绝：缺少 Bearer 头、哈希未命中、已吊销、已过期、
// 邮箱非活动；最后校验路径里的 :id 与令牌所属邮箱一致。
// 全部拒绝路径对存储无副作用。
func (ta *TokenAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearer(c)
		if raw == "" {
			httpresp.AbortError(c, apperrors.Authenticationf("missing bearer token"))
			return
		}

		token, inbox, err := ta.tokens.Authenticate(raw)
		if err != nil {
			ta.log.Warn("token authentication failed",
				zap.String("ip", c.ClientIP()),
				zap.Error(err),
			)
			httpresp.AbortError(c, err)
			return
		}

		// 路径邮箱必须等于令牌所属邮箱
		if pathID := c.Param("id"); pathID != "" && pathID != inbox.ID {
			httpresp.AbortError(c, apperrors.Authorizationf("token does not grant access to this inbox"))
			return
		}

		c.Set(ContextInbox, inbox)
		c.Set(ContextToken, token)
		c.Next()
	}
}

// InboxFrom 取出认证阶段附着的邮箱。
func InboxFrom(c *gin.Context) *domain.Inbox {
	v, ok := c.Get(ContextInbox)
	if !ok {
		return nil
	}
	inbox, _ := v.(*domain.Inbox)
	return inbox
}

// extractBearer 提取 Authorization: Bearer 头。
func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
