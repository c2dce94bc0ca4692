package sql

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/domain"
)

// Store SQL 数据库存储实现（支持 PostgreSQL 和 MySQL）
type Store struct {
	db         *gorm.DB
	driverName string // "postgres" or "mysql"
}

// NewStore 根据配置创建 SQL 存储
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql)", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: cfg.Type}

	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewStoreWithDB 基于已建立的 gorm 连接创建存储，测试用。
func NewStoreWithDB(db *gorm.DB, driverName string) (*Store, error) {
	store := &Store{db: db, driverName: driverName}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Inbox{},
		&domain.Token{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.MailDomain{},
		&domain.AuditLog{},
		&domain.BulkGeneration{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
