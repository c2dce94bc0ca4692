package domain

import "time"

// TokenStatus 访问令牌状态。
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusRevoked TokenStatus = "revoked"
	TokenStatusExpired TokenStatus = "expired"
)

// Token 表示一张邮箱访问令牌。
//
// 数据库里只保存原始令牌的 SHA-256 哈希；原始令牌仅在签发或轮换时
// 返回一次，之后不可恢复。
type Token struct {
	ID        string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID   string      `json:"inboxId" gorm:"type:varchar(36);index;not null"`
	TokenHash string      `json:"-" gorm:"type:char(64);uniqueIndex"`
	Status    TokenStatus `json:"status" gorm:"type:varchar(16);index"`
	ExpiresAt time.Time   `json:"expiresAt"`
	IssuerIP  string      `json:"-" gorm:"type:varchar(64)"`
	CreatedAt time.Time   `json:"createdAt"`
	RevokedAt *time.Time  `json:"revokedAt,omitempty"`
}

// Expired 按给定时刻判断令牌是否已过期。
// 后台清扫可能滞后，请求路径必须亲自比较 expires_at。
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
