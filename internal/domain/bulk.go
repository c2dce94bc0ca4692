package domain

import "time"

// BulkGeneration 一次批量生成邮箱的记录。
type BulkGeneration struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Requested int       `json:"requested"`
	Created   int       `json:"created"`
	ActorIP   string    `json:"-" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"createdAt"`
}
