package sql

import (
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// InsertAuditLog 追加一条审计记录。
func (s *Store) InsertAuditLog(entry *domain.AuditLog) error {
	return s.db.Create(entry).Error
}

// CreateBulkGeneration 记录一次批量生成。
func (s *Store) CreateBulkGeneration(record *domain.BulkGeneration) error {
	return s.db.Create(record).Error
}

// GetStats 返回系统计数快照。
func (s *Store) GetStats() (*storage.Stats, error) {
	stats := &storage.Stats{}

	type counter struct {
		dst   *int64
		model any
		where []any
	}
	counters := []counter{
		{&stats.TotalInboxes, &domain.Inbox{}, nil},
		{&stats.ActiveInboxes, &domain.Inbox{}, []any{"status = ?", domain.InboxStatusActive}},
		{&stats.GeneratedInboxes, &domain.Inbox{}, []any{"type = ?", domain.InboxTypeGenerated}},
		{&stats.ExternalInboxes, &domain.Inbox{}, []any{"type = ?", domain.InboxTypeExternal}},
		{&stats.TotalMessages, &domain.Message{}, nil},
		{&stats.TotalAttachments, &domain.Attachment{}, nil},
		{&stats.ActiveTokens, &domain.Token{}, []any{"status = ?", domain.TokenStatusActive}},
		{&stats.ActiveDomains, &domain.MailDomain{}, []any{"is_active = ?", true}},
	}

	for _, c := range counters {
		q := s.db.Model(c.model)
		if len(c.where) > 0 {
			q = q.Where(c.where[0], c.where[1:]...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	return stats, nil
}
