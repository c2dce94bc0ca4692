package sql

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// CreateInbox 插入新邮箱（凭据已由服务层加密）。
func (s *Store) CreateInbox(inbox *domain.Inbox) error {
	err := s.db.Create(inbox).Error
	if err != nil && isDuplicateKey(err) {
		return storage.ErrEmailExists
	}
	return err
}

// GetInbox 按 ID 获取邮箱。
func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.Where("id = ?", id).First(&inbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrInboxNotFound
		}
		return nil, err
	}
	return &inbox, nil
}

// GetActiveInboxByEmail 按地址（不区分大小写）查找活动邮箱。
func (s *Store) GetActiveInboxByEmail(email string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.
		Where("LOWER(email) = ?", strings.ToLower(email)).
		Where("status = ?", domain.InboxStatusActive).
		First(&inbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrInboxNotFound
		}
		return nil, err
	}
	return &inbox, nil
}

// AdvanceLastSeenUID 条件推进抓取游标。
//
// 仅当行内游标仍等于任务启动时观察到的值才更新；
// 返回 false 表示另一个任务已经抢先推进，调用方放弃本次推进。
func (s *Store) AdvanceLastSeenUID(inboxID string, observed *string, newUID string) (bool, error) {
	q := s.db.Model(&domain.Inbox{}).Where("id = ?", inboxID)
	if observed == nil {
		q = q.Where("last_seen_uid IS NULL")
	} else {
		q = q.Where("last_seen_uid = ?", *observed)
	}
	res := q.Update("last_seen_uid", newUID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteInboxCascade 级联删除邮箱。
//
// 单事务内：删除附件 → 删除消息 → 吊销活动令牌 → 邮箱置为
// deleted、凭据密文清空、记录 deleted_at。
func (s *Store) DeleteInboxCascade(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var inbox domain.Inbox
		if err := tx.Where("id = ?", id).First(&inbox).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrInboxNotFound
			}
			return err
		}

		if err := tx.Where("inbox_id = ?", id).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("inbox_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&domain.Token{}).
			Where("inbox_id = ? AND status = ?", id, domain.TokenStatusActive).
			Updates(map[string]any{
				"status":     domain.TokenStatusRevoked,
				"revoked_at": now,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&domain.Inbox{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":       domain.InboxStatusDeleted,
				"enc_username": "",
				"enc_password": "",
				"deleted_at":   now,
			}).Error
	})
}

// ListExpiredActiveInboxes 返回 TTL 已过期的活动邮箱。
func (s *Store) ListExpiredActiveInboxes(now time.Time) ([]domain.Inbox, error) {
	var inboxes []domain.Inbox
	err := s.db.
		Where("status = ?", domain.InboxStatusActive).
		Where("ttl_seconds > 0").
		Where("created_at <= ?", now.Add(-time.Second)).
		Find(&inboxes).Error
	if err != nil {
		return nil, err
	}
	expired := inboxes[:0]
	for _, in := range inboxes {
		if in.CreatedAt.Add(time.Duration(in.TTLSeconds) * time.Second).Before(now) {
			expired = append(expired, in)
		}
	}
	return expired, nil
}

// ListGeneratedInboxes 返回全部活动的系统生成邮箱（导出用）。
func (s *Store) ListGeneratedInboxes() ([]domain.Inbox, error) {
	var inboxes []domain.Inbox
	err := s.db.
		Where("type = ?", domain.InboxTypeGenerated).
		Where("status = ?", domain.InboxStatusActive).
		Order("created_at ASC").
		Find(&inboxes).Error
	return inboxes, err
}

// isDuplicateKey 识别唯一约束冲突（postgres 23505 / mysql 1062）。
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique constraint")
}
