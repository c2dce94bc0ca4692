package middleware

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	httpresp "github.com/sefisk/10minutemail/internal/transport/http"
)

// AdminAuth 管理接口共享密钥校验。
type AdminAuth struct {
	keyDigest [32]byte
	enabled   bool
	log       *zap.Logger
}

// NewAdminAuth 创建管理员中间件。密钥为空时全部拒绝。
func NewAdminAuth(adminKey string, log *zap.Logger) *AdminAuth {
	return &AdminAuth{
		keyDigest: sha256.Sum256([]byte(adminKey)),
		enabled:   adminKey != "",
		log:       log,
	}
}

// RequireAdminKey 校验 X-Admin-Key 头。
// 双方先做 SHA-256 归一到等长摘要，再做常数时间比较。
func (aa *AdminAuth) RequireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !aa.enabled {
			httpresp.AbortError(c, apperrors.Authorizationf("admin interface disabled"))
			return
		}

		presented := sha256.Sum256([]byte(c.GetHeader("X-Admin-Key")))
		if subtle.ConstantTimeCompare(aa.keyDigest[:], presented[:]) != 1 {
			aa.log.Warn("admin key rejected", zap.String("ip", c.ClientIP()))
			httpresp.AbortError(c, apperrors.Authenticationf("invalid admin key"))
			return
		}

		c.Next()
	}
}
