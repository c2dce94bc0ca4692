package service

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/crypto"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// ExportedInbox 导出的一条生成邮箱。
type ExportedInbox struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminService 管理操作：批量生成、导出、统计。
type AdminService struct {
	store   storage.Store
	inboxes *InboxService
	cipher  *crypto.Cipher
	audit   *AuditService
	log     *zap.Logger
}

// NewAdminService 创建管理服务。
func NewAdminService(store storage.Store, inboxes *InboxService, cipher *crypto.Cipher, audit *AuditService, log *zap.Logger) *AdminService {
	return &AdminService{
		store:   store,
		inboxes: inboxes,
		cipher:  cipher,
		audit:   audit,
		log:     log,
	}
}

// BulkGenerate 跨活动域名轮转批量创建生成邮箱。
//
// 单个创建失败只记日志继续；返回实际创建数量。
func (s *AdminService) BulkGenerate(count, ttlSeconds int, actorIP string) (int, error) {
	if count <= 0 || count > 1000 {
		return 0, apperrors.Validationf("count must be between 1 and 1000")
	}

	domains, err := s.store.ListDomains(true)
	if err != nil {
		return 0, err
	}
	if len(domains) == 0 {
		return 0, apperrors.Validationf("no active domains configured")
	}

	created := 0
	for i := 0; i < count; i++ {
		d := domains[i%len(domains)] // 轮转分配
		_, err := s.inboxes.Create(CreateInboxInput{
			Mode:       "generated",
			DomainID:   d.ID,
			TTLSeconds: ttlSeconds,
			IP:         actorIP,
		})
		if err != nil {
			s.log.Warn("bulk generate: inbox creation failed",
				zap.String("domain", d.Domain),
				zap.Error(err),
			)
			continue
		}
		created++
	}

	if err := s.store.CreateBulkGeneration(&domain.BulkGeneration{
		ID:        uuid.NewString(),
		Requested: count,
		Created:   created,
		ActorIP:   actorIP,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.log.Error("bulk generation record failed", zap.Error(err))
	}

	s.audit.Emit(domain.AuditBulkGenerated, nil, actorIP, map[string]string{
		"requested": strconv.Itoa(count),
		"created":   strconv.Itoa(created),
	})
	return created, nil
}

// Export 导出全部活动的生成邮箱为 email/password 对。
// 解密失败的行跳过并记日志。
func (s *AdminService) Export() ([]ExportedInbox, error) {
	inboxes, err := s.store.ListGeneratedInboxes()
	if err != nil {
		return nil, err
	}

	out := make([]ExportedInbox, 0, len(inboxes))
	for _, inbox := range inboxes {
		password, err := s.cipher.Decrypt(inbox.EncPassword)
		if err != nil {
			s.log.Error("export: credential decrypt failed",
				zap.String("inbox_id", inbox.ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, ExportedInbox{Email: inbox.Email, Password: password})
	}
	return out, nil
}

// Stats 系统计数。
func (s *AdminService) Stats() (*storage.Stats, error) {
	return s.store.GetStats()
}
