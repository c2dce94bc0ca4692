package domain

import "time"

// MailDomain 管理员维护的签发域名。
//
// 要么配置外部 POP3 坐标（邮件由本系统外拉），要么标记 is_local
// 交给内置 SMTP 接收器直接收信。
type MailDomain struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Domain       string    `json:"domain" gorm:"type:varchar(255);uniqueIndex"`
	POP3Host     string    `json:"pop3Host,omitempty" gorm:"type:varchar(255)"`
	POP3Port     int       `json:"pop3Port,omitempty"`
	POP3TLS      bool      `json:"pop3Tls"`
	IsLocal      bool      `json:"isLocal"`
	IsActive     bool      `json:"isActive" gorm:"index"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 固定表名为 domains。
func (MailDomain) TableName() string {
	return "domains"
}
