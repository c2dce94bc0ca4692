package domain

import "time"

// Attachment 表示邮件的二进制附件。
//
// inbox_id 为冗余字段，用于按邮箱范围校验下载请求。
// checksum 是对实际存储字节计算的 SHA-256。
type Attachment struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string    `json:"messageId" gorm:"type:varchar(36);index;not null"`
	InboxID     string    `json:"inboxId" gorm:"type:varchar(36);index;not null"`
	Filename    string    `json:"filename" gorm:"type:varchar(512)"`
	ContentType string    `json:"contentType" gorm:"type:varchar(255)"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentID   string    `json:"contentId,omitempty" gorm:"type:varchar(255)"`
	Checksum    string    `json:"checksum" gorm:"type:char(64)"`
	Content     []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}
