package storage

import (
	"errors"
	"time"

	"github.com/sefisk/10minutemail/internal/domain"
)

// 存储层哨兵错误。
var (
	ErrInboxNotFound      = errors.New("inbox not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrDomainExists       = errors.New("domain already exists")
	ErrEmailExists        = errors.New("email already exists")
	ErrDomainInUse        = errors.New("domain has active inboxes")
)

// Stats 系统计数快照。
type Stats struct {
	TotalInboxes     int64 `json:"totalInboxes"`
	ActiveInboxes    int64 `json:"activeInboxes"`
	GeneratedInboxes int64 `json:"generatedInboxes"`
	ExternalInboxes  int64 `json:"externalInboxes"`
	TotalMessages    int64 `json:"totalMessages"`
	TotalAttachments int64 `json:"totalAttachments"`
	ActiveTokens     int64 `json:"activeTokens"`
	ActiveDomains    int64 `json:"activeDomains"`
}

// Store 事务边界的唯一所有者。
//
// 级联不变量（删除邮箱连带清空消息、附件并吊销令牌）由显式的
// 删除事务保证，而不是依赖数据库的外键动作。
type Store interface {
	// Inbox
	CreateInbox(inbox *domain.Inbox) error
	GetInbox(id string) (*domain.Inbox, error)
	GetActiveInboxByEmail(email string) (*domain.Inbox, error)
	// AdvanceLastSeenUID 条件推进游标：仅当行内游标仍等于任务启动时
	// 观察到的值才更新，并发任务交错不会让游标回退。
	AdvanceLastSeenUID(inboxID string, observed *string, newUID string) (bool, error)
	// DeleteInboxCascade 单事务内删除附件、删除消息、吊销活动令牌、
	// 置邮箱为 deleted 并清空凭据密文。
	DeleteInboxCascade(id string) error
	ListExpiredActiveInboxes(now time.Time) ([]domain.Inbox, error)
	ListGeneratedInboxes() ([]domain.Inbox, error)

	// Message
	// InsertMessages 幂等写入：(inbox_id, uid) 冲突的行跳过且不写其
	// 附件；返回实际插入的条数。整批在一个事务内提交。
	InsertMessages(inboxID string, msgs []*domain.Message) (int, error)
	// ListMessagesSince 游标读取：sinceUID 解析为对应行的 fetched_at，
	// 按 fetched_at 升序返回其后的消息；sinceUID 未知时返回首页。
	ListMessagesSince(inboxID, sinceUID string, limit int) ([]domain.Message, error)
	GetMessageByUID(inboxID, uid string) (*domain.Message, error)
	GetAttachment(inboxID, uid, attachmentID string) (*domain.Attachment, error)

	// Token
	CreateToken(token *domain.Token) error
	GetTokenByHash(hash string) (*domain.Token, *domain.Inbox, error)
	RevokeActiveTokens(inboxID string, now time.Time) (int64, error)
	// RotateToken 同一事务内吊销全部活动令牌并写入新令牌。
	RotateToken(inboxID string, fresh *domain.Token, now time.Time) error
	SweepExpiredTokens(now time.Time) (int64, error)

	// Domain
	CreateDomain(d *domain.MailDomain) error
	GetDomain(id string) (*domain.MailDomain, error)
	ListDomains(activeOnly bool) ([]domain.MailDomain, error)
	UpdateDomain(d *domain.MailDomain) error
	// DeleteDomain 在仍有活动邮箱引用时拒绝删除。
	DeleteDomain(id string) error

	// Audit / bulk
	InsertAuditLog(entry *domain.AuditLog) error
	CreateBulkGeneration(record *domain.BulkGeneration) error

	GetStats() (*Stats, error)

	Health() error
	Close() error
}
