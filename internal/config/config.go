package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// POP3Config 定义 POP3 拉取侧（连接池 + 抓取）的配置
type POP3Config struct {
	MaxConcurrent  int           // 连接池并发上限，默认 5
	MaxRetries     int           // 单次执行的最大尝试次数，默认 3
	BackoffBase    time.Duration // 指数退避基准，默认 500ms
	ConnectTimeout time.Duration // 建连超时，默认 10s
	CommandTimeout time.Duration // 单命令超时，默认 30s
	ThrottleWindow time.Duration // 命中限流信号后的冷却窗口，默认 30s
	MaxFetch       int           // 单任务最多拉取的邮件数，默认 50
}

// SMTPConfig 定义内置 SMTP 接收服务器的配置
type SMTPConfig struct {
	Enabled         bool   // 是否启用内置 SMTP 接收器
	BindAddr        string // 监听地址，格式 "host:port"，默认 ":25"
	Domain          string // 服务器域名，用于 HELO/EHLO 响应
	MaxMessageBytes int64  // 单封邮件大小上限，默认 10MiB
	MaxRecipients   int    // 单会话收件人上限，默认 50
}

// TokenConfig 定义访问令牌生命周期配置
type TokenConfig struct {
	Secret        string        // 令牌签名密钥
	DefaultTTL    time.Duration // 默认有效期，默认 600s
	MaxTTL        time.Duration // 管理员可申请的上限，默认 7 天
	SweepInterval time.Duration // 过期清扫周期，默认 5 分钟
}

// MailConfig 定义邮件解析相关的上限
type MailConfig struct {
	MaxAttachmentBytes int64         // 单附件大小上限，超限在解析期丢弃，默认 10MiB
	MaxHTMLBytes       int64         // HTML 正文解析上限，默认 5MiB
	InboxTTL           time.Duration // 邮箱默认生存时间，到期整体级联清理
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出与详细堆栈
	File        string // 日志文件路径，留空只输出到 stdout
}

// DatabaseConfig 定义数据库连接配置（支持 PostgreSQL 和 MySQL）
type DatabaseConfig struct {
	Type            string        // "postgres" 或 "mysql"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置（限流计数）
type RedisConfig struct {
	Address  string // 服务地址，留空禁用 Redis，回退进程内计数
	Password string
	DB       int
}

// RateLimitConfig 定义创建邮箱的 IP 限流配置
type RateLimitConfig struct {
	CreatePerIP int           // 窗口内单 IP 可创建的邮箱数，默认 10
	Window      time.Duration // 限流窗口，默认 1 小时
}

// Config 是系统核心配置的根结构体
//
// 启动时构建一次，之后只读；各组件接收自己的类型化子结构，
// 不读取进程级全局状态。
type Config struct {
	Env           string // "production" 或 "development"
	AdminKey      string // 管理接口共享密钥
	EncryptionKey string // 凭据加密密钥（64 位十六进制或任意口令）
	Server        ServerConfig
	POP3          POP3Config
	SMTP          SMTPConfig
	Token         TokenConfig
	Mail          MailConfig
	Log           LogConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
}

// Production 报告是否运行在生产环境。
// 生产环境屏蔽内部错误消息，并启用外部 POP3 地址的 SSRF 防护。
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILGATE_
// 例如: MAILGATE_SERVER_PORT, MAILGATE_ENCRYPTION_KEY
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("mailgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("env", "development")
	viper.SetDefault("admin_key", "")
	viper.SetDefault("encryption_key", "")
	viper.SetDefault("token.secret", "")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("pop3.max_concurrent", 5)
	viper.SetDefault("pop3.max_retries", 3)
	viper.SetDefault("pop3.backoff_base", "500ms")
	viper.SetDefault("pop3.connect_timeout", "10s")
	viper.SetDefault("pop3.command_timeout", "30s")
	viper.SetDefault("pop3.throttle_window", "30s")
	viper.SetDefault("pop3.max_fetch", 50)
	viper.SetDefault("smtp.enabled", true)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "mail.local")
	viper.SetDefault("smtp.max_message_bytes", 10<<20)
	viper.SetDefault("smtp.max_recipients", 50)
	viper.SetDefault("token.default_ttl", "600s")
	viper.SetDefault("token.max_ttl", "168h")
	viper.SetDefault("token.sweep_interval", "5m")
	viper.SetDefault("mail.max_attachment_bytes", 10<<20)
	viper.SetDefault("mail.max_html_bytes", 5<<20)
	viper.SetDefault("mail.inbox_ttl", "24h")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "postgres")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.create_per_ip", 10)
	viper.SetDefault("ratelimit.window", "1h")

	env := viper.GetString("env")
	if env != "production" && env != "development" {
		return nil, fmt.Errorf("invalid env %q (expected production or development)", env)
	}

	encryptionKey := viper.GetString("encryption_key")
	if encryptionKey == "" {
		return nil, fmt.Errorf("MAILGATE_ENCRYPTION_KEY is required")
	}

	adminKey := viper.GetString("admin_key")
	if adminKey == "" && env == "production" {
		return nil, fmt.Errorf("MAILGATE_ADMIN_KEY is required in production")
	}

	tokenSecret := viper.GetString("token.secret")
	if tokenSecret == "" {
		// 令牌仅做签名包装，哈希查库才是权威校验；开发环境允许派生
		if env == "production" {
			return nil, fmt.Errorf("MAILGATE_TOKEN_SECRET is required in production")
		}
		tokenSecret = encryptionKey
	}

	dbType := viper.GetString("database.type")
	if dbType != "postgres" && dbType != "mysql" {
		return nil, fmt.Errorf("unsupported database.type %q (expected postgres or mysql)", dbType)
	}
	if viper.GetString("database.dsn") == "" {
		return nil, fmt.Errorf("MAILGATE_DATABASE_DSN is required")
	}

	cfg := &Config{
		Env:           env,
		AdminKey:      adminKey,
		EncryptionKey: encryptionKey,
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		POP3: POP3Config{
			MaxConcurrent:  viper.GetInt("pop3.max_concurrent"),
			MaxRetries:     viper.GetInt("pop3.max_retries"),
			BackoffBase:    mustDuration("pop3.backoff_base", 500*time.Millisecond),
			ConnectTimeout: mustDuration("pop3.connect_timeout", 10*time.Second),
			CommandTimeout: mustDuration("pop3.command_timeout", 30*time.Second),
			ThrottleWindow: mustDuration("pop3.throttle_window", 30*time.Second),
			MaxFetch:       viper.GetInt("pop3.max_fetch"),
		},
		SMTP: SMTPConfig{
			Enabled:         viper.GetBool("smtp.enabled"),
			BindAddr:        viper.GetString("smtp.bind_addr"),
			Domain:          viper.GetString("smtp.domain"),
			MaxMessageBytes: viper.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   viper.GetInt("smtp.max_recipients"),
		},
		Token: TokenConfig{
			Secret:        tokenSecret,
			DefaultTTL:    mustDuration("token.default_ttl", 600*time.Second),
			MaxTTL:        mustDuration("token.max_ttl", 168*time.Hour),
			SweepInterval: mustDuration("token.sweep_interval", 5*time.Minute),
		},
		Mail: MailConfig{
			MaxAttachmentBytes: viper.GetInt64("mail.max_attachment_bytes"),
			MaxHTMLBytes:       viper.GetInt64("mail.max_html_bytes"),
			InboxTTL:           mustDuration("mail.inbox_ttl", 24*time.Hour),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: mustDuration("database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			CreatePerIP: viper.GetInt("ratelimit.create_per_ip"),
			Window:      mustDuration("ratelimit.window", time.Hour),
		},
	}

	if cfg.POP3.MaxConcurrent <= 0 {
		cfg.POP3.MaxConcurrent = 5
	}
	if cfg.POP3.MaxRetries <= 0 {
		cfg.POP3.MaxRetries = 3
	}
	if cfg.RateLimit.CreatePerIP <= 0 {
		cfg.RateLimit.CreatePerIP = 10
	}

	return cfg, nil
}

// mustDuration 读取时长配置，解析失败时回退默认值
func mustDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量优先级更高，不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
