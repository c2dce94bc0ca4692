package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/monitoring"
	httpresp "github.com/sefisk/10minutemail/internal/transport/http"
)

// RequestLogger 记录每个请求的方法、路径、状态与耗时。
func RequestLogger(log *zap.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if metrics != nil {
			metrics.HTTPRequests.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// Recovery 捕获 panic 并转换为内部错误响应。
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				httpresp.AbortError(c, apperrors.New(apperrors.KindInternal, "internal error"))
			}
		}()
		c.Next()
	}
}
