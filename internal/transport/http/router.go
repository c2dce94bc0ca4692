package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/config"
)

// Pinger 就绪检查所需的存储接口。
type Pinger interface {
	Health() error
}

// RouterDependencies 路由器依赖项。
//
// 中间件以现成的 gin.HandlerFunc 注入，由启动代码组装，
// 路由层不反向依赖中间件包。
type RouterDependencies struct {
	Config         *config.Config
	InboxHandler   *InboxHandler
	MessageHandler *MessageHandler
	AdminHandler   *AdminHandler

	TokenAuth       gin.HandlerFunc // Bearer Token 认证
	AdminAuth       gin.HandlerFunc // X-Admin-Key 校验
	CreateRateLimit gin.HandlerFunc // 创建邮箱限流
	RequestLogger   gin.HandlerFunc
	Recovery        gin.HandlerFunc

	LiveHandler    http.Handler // /health/live
	ReadyHandler   http.Handler // /health/ready
	MetricsHandler http.Handler // /metrics

	Store  Pinger
	Logger *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	ConfigureErrors(deps.Config.Production())

	router := gin.New()
	router.Use(deps.Recovery)
	router.Use(deps.RequestLogger)

	router.Use(gincors.New(gincors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "X-Checksum-SHA256"},
		MaxAge:        12 * time.Hour,
	}))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := deps.Store.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if deps.LiveHandler != nil {
		router.GET("/health/live", gin.WrapH(deps.LiveHandler))
	}
	if deps.ReadyHandler != nil {
		router.GET("/health/ready", gin.WrapH(deps.ReadyHandler))
	}
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	v1 := router.Group("/v1")
	{
		// 创建无需认证，但按 IP 限流
		v1.POST("/inboxes", deps.CreateRateLimit, deps.InboxHandler.Create)

		authed := v1.Group("/inboxes/:id", deps.TokenAuth)
		{
			authed.GET("/messages", deps.MessageHandler.List)
			authed.GET("/messages/:uid/attachments/:attachmentId", deps.MessageHandler.DownloadAttachment)
			// gin 把段中冒号视作通配符，这里显式锁定 token:rotate 字面路径
			authed.POST("/token:action", requireAction(":rotate", deps.InboxHandler.RotateToken))
			authed.DELETE("", deps.InboxHandler.Delete)
		}

		admin := v1.Group("/admin", deps.AdminAuth)
		{
			admin.POST("/domains", deps.AdminHandler.CreateDomain)
			admin.GET("/domains", deps.AdminHandler.ListDomains)
			admin.PUT("/domains/:id", deps.AdminHandler.UpdateDomain)
			admin.DELETE("/domains/:id", deps.AdminHandler.DeleteDomain)
			admin.POST("/generate", deps.AdminHandler.Generate)
			admin.GET("/export", deps.AdminHandler.Export)
			admin.GET("/stats", deps.AdminHandler.Stats)
		}
	}

	return router
}

// requireAction 校验动作后缀，未知动作回 404。
func requireAction(action string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("action") != action {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrorBody{
				Code:    "NOT_FOUND",
				Message: "unknown action",
			}})
			return
		}
		handler(c)
	}
}
