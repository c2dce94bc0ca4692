package mailparse

import (
	"github.com/google/uuid"

	"github.com/sefisk/10minutemail/internal/domain"
)

// Message 把解析结果物化为一条可入库的消息。
//
// 每次调用生成全新的消息与附件 ID，同一解析结果可安全地投递给
// 多个收件邮箱（SMTP 多收件人场景）。
func (p *Parsed) Message() *domain.Message {
	msg := &domain.Message{
		ID:         uuid.NewString(),
		UID:        p.UID,
		MessageID:  p.MessageID,
		From:       p.From,
		Recipients: p.Recipients,
		Subject:    p.Subject,
		Text:       p.Text,
		HTML:       p.HTML,
		Headers:    p.Headers,
		SizeBytes:  p.SizeBytes,
		ReceivedAt: p.ReceivedAt,
	}

	for _, att := range p.Attachments {
		clone := *att
		clone.ID = uuid.NewString()
		clone.MessageID = msg.ID
		msg.Attachments = append(msg.Attachments, &clone)
	}

	return msg
}
