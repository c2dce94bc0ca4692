package domain

import "time"

// Recipient 收件人地址与显示名。
type Recipient struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Message 表示一封已入库的邮件。
//
// (inbox_id, uid) 唯一；重复写入是空操作。fetched_at 单调分配，
// 是游标分页的排序轴。
type Message struct {
	ID         string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID    string            `json:"inboxId" gorm:"type:varchar(36);uniqueIndex:idx_messages_inbox_uid;not null"`
	UID        string            `json:"uid" gorm:"type:varchar(255);uniqueIndex:idx_messages_inbox_uid;not null"`
	MessageID  string            `json:"messageId,omitempty" gorm:"type:varchar(512)"`
	From       string            `json:"from" gorm:"column:sender;type:varchar(512)"`
	Recipients []Recipient       `json:"recipients" gorm:"serializer:json;type:text"`
	Subject    string            `json:"subject" gorm:"type:varchar(1000)"`
	Text       string            `json:"text" gorm:"type:text"`
	HTML       string            `json:"html" gorm:"type:text"`
	Headers    map[string]string `json:"headers" gorm:"serializer:json;type:text"`
	SizeBytes  int64             `json:"sizeBytes"`
	ReceivedAt time.Time         `json:"receivedAt"`
	FetchedAt  time.Time         `json:"fetchedAt" gorm:"index"`

	// 附件列表，查询时聚合填充，不作为消息行的列存储。
	Attachments []*Attachment `json:"attachments,omitempty" gorm:"-"`
}
