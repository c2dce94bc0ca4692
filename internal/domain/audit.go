package domain

import "time"

// 审计事件类型。
const (
	AuditInboxCreated  = "inbox.created"
	AuditInboxDeleted  = "inbox.deleted"
	AuditInboxExpired  = "inbox.expired"
	AuditTokenIssued   = "token.issued"
	AuditTokenRotated  = "token.rotated"
	AuditTokenRevoked  = "token.revoked"
	AuditDomainCreated = "domain.created"
	AuditDomainUpdated = "domain.updated"
	AuditDomainDeleted = "domain.deleted"
	AuditBulkGenerated = "bulk.generated"
)

// AuditLog 状态变更操作的只追加记录。
// 热路径从不读取；写入失败不影响触发它的请求。
type AuditLog struct {
	ID        string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EventKind string            `json:"eventKind" gorm:"type:varchar(64);index"`
	InboxID   *string           `json:"inboxId,omitempty" gorm:"type:varchar(36);index"`
	ActorIP   string            `json:"actorIp" gorm:"type:varchar(64)"`
	Metadata  map[string]string `json:"metadata,omitempty" gorm:"serializer:json;type:text"`
	CreatedAt time.Time         `json:"createdAt"`
}
