package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/storage/redis"
	httpresp "github.com/sefisk/10minutemail/internal/transport/http"
)

// CreateInboxRateLimit 创建邮箱的 IP 固定窗口限流。
//
// 计数器由 Redis 承载；未配置 Redis 时回退进程内实现。
func CreateInboxRateLimit(limiter redis.RateLimiter, cfg config.RateLimitConfig, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:create:%s", c.ClientIP())

		count, err := limiter.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			// 限流器不可用时放行，不让基础设施故障挡住业务
			log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		if count > int64(cfg.CreatePerIP) {
			log.Warn("create inbox rate limit exceeded",
				zap.String("ip", c.ClientIP()),
				zap.Int64("count", count),
			)
			httpresp.AbortError(c, apperrors.New(apperrors.KindRateLimit, "too many inboxes created, try again later"))
			return
		}

		c.Next()
	}
}
