package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sefisk/10minutemail/internal/cache"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/crypto"
	"github.com/sefisk/10minutemail/internal/fetcher"
	"github.com/sefisk/10minutemail/internal/health"
	"github.com/sefisk/10minutemail/internal/logger"
	"github.com/sefisk/10minutemail/internal/mailparse"
	"github.com/sefisk/10minutemail/internal/middleware"
	"github.com/sefisk/10minutemail/internal/monitoring"
	"github.com/sefisk/10minutemail/internal/pop3"
	"github.com/sefisk/10minutemail/internal/service"
	"github.com/sefisk/10minutemail/internal/smtp"
	storageredis "github.com/sefisk/10minutemail/internal/storage/redis"
	storagesql "github.com/sefisk/10minutemail/internal/storage/sql"
	httptransport "github.com/sefisk/10minutemail/internal/transport/http"
)

// main 启动同时包含 HTTP API、POP3 抓取与 SMTP 接收的网关服务。
//
// 单例资源（加密密钥、POP3 连接池、数据库连接池、本地域名缓存）
// 全部在这里构建一次并显式注入；关闭按 SMTP → HTTP → 数据库的
// 逆序进行。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mail gateway",
		zap.String("env", cfg.Env),
		zap.String("log_level", cfg.Log.Level),
	)

	// 加密密钥：进程级加载一次，从不写日志
	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal("failed to initialize credential cipher", zap.Error(err))
	}

	// 存储层
	store, err := storagesql.NewStore(&cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database storage", zap.Error(err))
	}
	log.Info("database storage initialized", zap.String("type", cfg.Database.Type))

	// 限流计数：优先 Redis，未配置时回退进程内
	var rateLimiter storageredis.RateLimiter
	var redisClient *storageredis.Client
	if cfg.Redis.Address != "" {
		redisClient, err = storageredis.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		rateLimiter = redisClient
		log.Info("redis rate limiting enabled", zap.String("address", cfg.Redis.Address))
	} else {
		rateLimiter = storageredis.NewMemoryRateLimiter()
		log.Info("redis not configured, using in-process rate limiting")
	}

	// 监控与健康检查
	metrics := monitoring.NewMetrics()
	checker := health.NewChecker(store, log)

	// 本地域名缓存：启动刷新一次，之后每 60 秒刷新
	domainCache := cache.NewDomainCache(store, log)
	if err := domainCache.Refresh(); err != nil {
		log.Error("initial domain cache refresh failed", zap.Error(err))
	}

	// POP3 连接池与抓取
	pool := pop3.NewPool(pop3.PoolOptions{
		MaxConcurrent:  cfg.POP3.MaxConcurrent,
		MaxRetries:     cfg.POP3.MaxRetries,
		BackoffBase:    cfg.POP3.BackoffBase,
		ThrottleWindow: cfg.POP3.ThrottleWindow,
		ConnectTimeout: cfg.POP3.ConnectTimeout,
		CommandTimeout: cfg.POP3.CommandTimeout,
	}, log)
	pool.OnRetry = func() { metrics.POP3Retries.Inc() }
	pool.OnThrottle = func() { metrics.POP3Throttled.Inc() }

	parser := mailparse.NewParser(mailparse.Limits{
		MaxAttachmentBytes: cfg.Mail.MaxAttachmentBytes,
		MaxHTMLBytes:       cfg.Mail.MaxHTMLBytes,
	}, log)

	worker := fetcher.NewWorker(store, pool, cipher, parser, metrics, cfg.POP3.MaxFetch, log)
	queue := fetcher.NewQueue(worker, cfg.POP3.MaxConcurrent, cfg.POP3.MaxConcurrent*4, log)

	// 服务层
	auditService := service.NewAuditService(store, log)
	tokenService := service.NewTokenService(store, cfg.Token, log)
	inboxService := service.NewInboxService(store, cipher, tokenService, auditService, cfg, log)
	messageService := service.NewMessageService(store, queue, log)
	domainService := service.NewDomainService(store, domainCache, auditService, log)
	adminService := service.NewAdminService(store, inboxService, cipher, auditService, log)

	// HTTP 传输
	tokenAuth := middleware.NewTokenAuth(tokenService, log)
	adminAuth := middleware.NewAdminAuth(cfg.AdminKey, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		InboxHandler:    httptransport.NewInboxHandler(inboxService, tokenService, auditService, log),
		MessageHandler:  httptransport.NewMessageHandler(messageService, log),
		AdminHandler:    httptransport.NewAdminHandler(domainService, adminService, log),
		TokenAuth:       tokenAuth.RequireToken(),
		AdminAuth:       adminAuth.RequireAdminKey(),
		CreateRateLimit: middleware.CreateInboxRateLimit(rateLimiter, cfg.RateLimit, log),
		RequestLogger:   middleware.RequestLogger(log, metrics),
		Recovery:        middleware.Recovery(log),
		LiveHandler:     checker.LiveEndpoint(),
		ReadyHandler:    checker.ReadyEndpoint(),
		MetricsHandler:  metrics.HTTPHandler(),
		Store:           store,
		Logger:          log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 接收器（可按配置禁用）
	var smtpServer interface {
		ListenAndServe() error
		Close() error
	}
	if cfg.SMTP.Enabled {
		limiter := smtp.NewConnectionLimiter(100, 20)
		backend := smtp.NewBackend(store, parser, domainCache, limiter, metrics, cfg.SMTP, log)
		smtpServer = smtp.NewServer(backend, cfg.SMTP)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 抓取工作池
	queue.Start(groupCtx)

	// 审计写入器
	group.Go(func() error {
		auditService.Run(groupCtx)
		return nil
	})

	// HTTP 服务器
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器
	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 本地域名缓存刷新
	group.Go(func() error {
		domainCache.Run(groupCtx, 60*time.Second)
		return nil
	})

	// 过期令牌清扫
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Token.SweepInterval)
		defer ticker.Stop()

		log.Info("starting token sweep task", zap.Duration("interval", cfg.Token.SweepInterval))
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				swept, err := tokenService.Sweep()
				if err != nil {
					log.Error("token sweep failed", zap.Error(err))
				} else if swept > 0 {
					log.Info("expired tokens swept", zap.Int64("count", swept))
				}
			}
		}
	})

	// 过期邮箱清理
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		log.Info("starting expired inbox cleanup task", zap.Duration("interval", time.Hour))
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				count, err := inboxService.ExpireInboxes()
				if err != nil {
					log.Error("expired inbox cleanup failed", zap.Error(err))
				} else if count > 0 {
					log.Info("expired inboxes cleaned up", zap.Int("count", count))
				}
			}
		}
	})

	// 优雅关闭：SMTP → HTTP → 数据库
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	queue.Wait()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("redis close warning", zap.Error(err))
		}
	}
	if err := store.Close(); err != nil {
		log.Warn("database close warning", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
