package sql

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// CreateToken 写入新令牌（只含哈希，绝不落原始令牌）。
func (s *Store) CreateToken(token *domain.Token) error {
	return s.db.Create(token).Error
}

// GetTokenByHash 按哈希查找令牌，连同所属邮箱返回。
func (s *Store) GetTokenByHash(hash string) (*domain.Token, *domain.Inbox, error) {
	var token domain.Token
	err := s.db.Where("token_hash = ?", hash).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, storage.ErrTokenNotFound
		}
		return nil, nil, err
	}

	var inbox domain.Inbox
	if err := s.db.Where("id = ?", token.InboxID).First(&inbox).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &token, nil, storage.ErrInboxNotFound
		}
		return nil, nil, err
	}

	return &token, &inbox, nil
}

// RevokeActiveTokens 吊销邮箱的全部活动令牌。
func (s *Store) RevokeActiveTokens(inboxID string, now time.Time) (int64, error) {
	res := s.db.Model(&domain.Token{}).
		Where("inbox_id = ? AND status = ?", inboxID, domain.TokenStatusActive).
		Updates(map[string]any{
			"status":     domain.TokenStatusRevoked,
			"revoked_at": now,
		})
	return res.RowsAffected, res.Error
}

// RotateToken 同一事务内吊销全部活动令牌并写入新令牌。
// 轮换后每个邮箱最多保留一张活动令牌。
func (s *Store) RotateToken(inboxID string, fresh *domain.Token, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Token{}).
			Where("inbox_id = ? AND status = ?", inboxID, domain.TokenStatusActive).
			Updates(map[string]any{
				"status":     domain.TokenStatusRevoked,
				"revoked_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Create(fresh).Error
	})
}

// SweepExpiredTokens 把已过期的活动令牌批量置为 expired。
// 请求路径不依赖本清扫，线上校验自行比较 expires_at。
func (s *Store) SweepExpiredTokens(now time.Time) (int64, error) {
	res := s.db.Model(&domain.Token{}).
		Where("status = ? AND expires_at < ?", domain.TokenStatusActive, now).
		Update("status", domain.TokenStatusExpired)
	return res.RowsAffected, res.Error
}
