package sql

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// attachmentColumns 列表查询时排除附件内容字节。
var attachmentColumns = []string{
	"id", "message_id", "inbox_id", "filename", "content_type",
	"size_bytes", "content_id", "checksum", "created_at",
}

// InsertMessages 事务内幂等写入一批消息。
//
// (inbox_id, uid) 冲突的行按 DO NOTHING 跳过且不写其附件。
// fetched_at 在批内单调分配，保证游标轴稳定。
func (s *Store) InsertMessages(inboxID string, msgs []*domain.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		base := time.Now().UTC()
		for i, msg := range msgs {
			msg.InboxID = inboxID
			msg.FetchedAt = base.Add(time.Duration(i) * time.Microsecond)

			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "inbox_id"}, {Name: "uid"}},
				DoNothing: true,
			}).Omit("Attachments").Create(msg)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// 已存在的消息跳过，连同它的附件
				continue
			}
			inserted++

			for _, att := range msg.Attachments {
				att.MessageID = msg.ID
				att.InboxID = inboxID
				if err := tx.Create(att).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListMessagesSince 游标读取消息。
//
// sinceUID 解析为对应行的 fetched_at，返回严格在其后的消息，
// 按 fetched_at 升序；sinceUID 未知时回退返回首页。附件按
// 消息聚合，但不携带内容字节。
func (s *Store) ListMessagesSince(inboxID, sinceUID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.Where("inbox_id = ?", inboxID)
	if sinceUID != "" {
		var anchor domain.Message
		err := s.db.
			Where("inbox_id = ? AND uid = ?", inboxID, sinceUID).
			First(&anchor).Error
		if err == nil {
			q = q.Where("fetched_at > ?", anchor.FetchedAt)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var msgs []domain.Message
	if err := q.Order("fetched_at ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	index := make(map[string]*domain.Message, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		index[msgs[i].ID] = &msgs[i]
	}

	var atts []*domain.Attachment
	if err := s.db.
		Select(attachmentColumns).
		Where("message_id IN ?", ids).
		Order("created_at ASC").
		Find(&atts).Error; err != nil {
		return nil, err
	}
	for _, att := range atts {
		if msg, ok := index[att.MessageID]; ok {
			msg.Attachments = append(msg.Attachments, att)
		}
	}

	return msgs, nil
}

// GetMessageByUID 按 (inbox, uid) 获取单条消息。
func (s *Store) GetMessageByUID(inboxID, uid string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.Where("inbox_id = ? AND uid = ?", inboxID, uid).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// GetAttachment 按邮箱范围获取附件（含内容字节，下载用）。
func (s *Store) GetAttachment(inboxID, uid, attachmentID string) (*domain.Attachment, error) {
	msg, err := s.GetMessageByUID(inboxID, uid)
	if err != nil {
		return nil, err
	}

	var att domain.Attachment
	err = s.db.
		Where("id = ? AND message_id = ? AND inbox_id = ?", attachmentID, msg.ID, inboxID).
		First(&att).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &att, nil
}
