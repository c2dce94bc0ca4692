package domain

import "time"

// InboxType 邮箱接入模式。
type InboxType string

const (
	// InboxTypeExternal 用户自带的第三方 POP3 邮箱。
	InboxTypeExternal InboxType = "external"
	// InboxTypeGenerated 系统签发地址的邮箱，邮件经 POP3 拉取或内置 SMTP 接收。
	InboxTypeGenerated InboxType = "generated"
)

// InboxStatus 邮箱生命周期状态。
type InboxStatus string

const (
	InboxStatusActive    InboxStatus = "active"
	InboxStatusSuspended InboxStatus = "suspended"
	InboxStatusDeleted   InboxStatus = "deleted"
)

// Inbox 表示一个临时邮箱的业务实体。
//
// 凭据字段只保存 AES-256-GCM 加密后的不透明数据；创建之后明文口令
// 不再对外暴露，调用方一律通过可轮换的 Bearer Token 访问。
type Inbox struct {
	ID           string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string      `json:"email" gorm:"type:varchar(320);uniqueIndex"`
	Type         InboxType   `json:"type" gorm:"type:varchar(16);index"`
	Status       InboxStatus `json:"status" gorm:"type:varchar(16);index"`
	POP3Host     string      `json:"pop3Host,omitempty" gorm:"type:varchar(255)"`
	POP3Port     int         `json:"pop3Port,omitempty"`
	POP3TLS      bool        `json:"pop3Tls"`
	EncUsername  string      `json:"-" gorm:"type:text"`
	EncPassword  string      `json:"-" gorm:"type:text"`
	LastSeenUID  *string     `json:"lastSeenUid,omitempty" gorm:"type:varchar(255)"`
	DomainID     *string     `json:"domainId,omitempty" gorm:"type:varchar(36);index"`
	CreatorIP    string      `json:"-" gorm:"type:varchar(64)"`
	TTLSeconds   int         `json:"ttlSeconds"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	DeletedAt    *time.Time  `json:"deletedAt,omitempty"`
}

// Active 报告邮箱当前是否可用。
func (i *Inbox) Active() bool {
	return i.Status == InboxStatusActive
}
