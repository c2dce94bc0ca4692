package sql

import (
	"errors"

	"gorm.io/gorm"

	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// CreateDomain 新增签发域名。域名字符串唯一。
func (s *Store) CreateDomain(d *domain.MailDomain) error {
	err := s.db.Create(d).Error
	if err != nil && isDuplicateKey(err) {
		return storage.ErrDomainExists
	}
	return err
}

// GetDomain 按 ID 获取域名。
func (s *Store) GetDomain(id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	err := s.db.Where("id = ?", id).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrDomainNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDomains 返回域名列表。
func (s *Store) ListDomains(activeOnly bool) ([]domain.MailDomain, error) {
	q := s.db.Order("domain ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var domains []domain.MailDomain
	err := q.Find(&domains).Error
	return domains, err
}

// UpdateDomain 整行更新域名配置。
func (s *Store) UpdateDomain(d *domain.MailDomain) error {
	res := s.db.Model(&domain.MailDomain{}).Where("id = ?", d.ID).Updates(map[string]any{
		"domain":    d.Domain,
		"pop3_host": d.POP3Host,
		"pop3_port": d.POP3Port,
		"pop3_tls":  d.POP3TLS,
		"is_local":  d.IsLocal,
		"is_active": d.IsActive,
	})
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return storage.ErrDomainExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrDomainNotFound
	}
	return nil
}

// DeleteDomain 删除域名；仍被活动邮箱引用时拒绝。
func (s *Store) DeleteDomain(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Inbox{}).
			Where("domain_id = ? AND status = ?", id, domain.InboxStatusActive).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return storage.ErrDomainInUse
		}

		res := tx.Where("id = ?", id).Delete(&domain.MailDomain{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrDomainNotFound
		}
		return nil
	})
}
