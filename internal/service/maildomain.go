package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

// Refresher 域名变更后需要刷新的缓存。
type Refresher interface {
	Refresh() error
}

// DomainInput 域名 CRUD 的输入。
type DomainInput struct {
	Domain   string `json:"domain"`
	POP3Host string `json:"pop3_host"`
	POP3Port int    `json:"pop3_port"`
	POP3TLS  bool   `json:"pop3_tls"`
	IsLocal  bool   `json:"is_local"`
	IsActive *bool  `json:"is_active"`
	IP       string `json:"-"`
}

// DomainService 管理员维护的签发域名。
type DomainService struct {
	store   storage.Store
	cache   Refresher
	audit   *AuditService
	log     *zap.Logger
}

// NewDomainService 创建域名服务。
func NewDomainService(store storage.Store, cache Refresher, audit *AuditService, log *zap.Logger) *DomainService {
	return &DomainService{store: store, cache: cache, audit: audit, log: log}
}

func (s *DomainService) validate(input DomainInput) (string, error) {
	name := strings.ToLower(strings.TrimSpace(input.Domain))
	if name == "" || !strings.Contains(name, ".") || strings.Contains(name, "@") {
		return "", apperrors.Validationf("invalid domain name")
	}
	// 要么本地接收，要么给出外部 POP3 坐标
	if !input.IsLocal && input.POP3Host == "" {
		return "", apperrors.Validationf("either is_local or pop3_host is required")
	}
	return name, nil
}

// Create 新增域名。
func (s *DomainService) Create(input DomainInput) (*domain.MailDomain, error) {
	name, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	port := input.POP3Port
	if !input.IsLocal && port == 0 {
		port = 995
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	now := time.Now().UTC()
	d := &domain.MailDomain{
		ID:        uuid.NewString(),
		Domain:    name,
		POP3Host:  input.POP3Host,
		POP3Port:  port,
		POP3TLS:   input.POP3TLS,
		IsLocal:   input.IsLocal,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateDomain(d); err != nil {
		if err == storage.ErrDomainExists {
			return nil, apperrors.Conflictf("domain already exists")
		}
		return nil, err
	}

	s.refresh()
	s.audit.Emit(domain.AuditDomainCreated, nil, input.IP, map[string]string{"domain": name})
	return d, nil
}

// List 返回全部域名。
func (s *DomainService) List() ([]domain.MailDomain, error) {
	return s.store.ListDomains(false)
}

// Update 更新域名配置。
func (s *DomainService) Update(id string, input DomainInput) (*domain.MailDomain, error) {
	existing, err := s.store.GetDomain(id)
	if err != nil {
		if err == storage.ErrDomainNotFound {
			return nil, apperrors.NotFoundf("domain not found")
		}
		return nil, err
	}

	name, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	existing.Domain = name
	existing.POP3Host = input.POP3Host
	existing.POP3Port = input.POP3Port
	existing.POP3TLS = input.POP3TLS
	existing.IsLocal = input.IsLocal
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}

	if err := s.store.UpdateDomain(existing); err != nil {
		switch err {
		case storage.ErrDomainNotFound:
			return nil, apperrors.NotFoundf("domain not found")
		case storage.ErrDomainExists:
			return nil, apperrors.Conflictf("domain already exists")
		}
		return nil, err
	}

	s.refresh()
	s.audit.Emit(domain.AuditDomainUpdated, nil, input.IP, map[string]string{"domain": name})
	return existing, nil
}

// Delete 删除域名；仍有活动邮箱引用时拒绝。
func (s *DomainService) Delete(id, actorIP string) error {
	if err := s.store.DeleteDomain(id); err != nil {
		switch err {
		case storage.ErrDomainNotFound:
			return apperrors.NotFoundf("domain not found")
		case storage.ErrDomainInUse:
			return apperrors.Conflictf("domain has active inboxes")
		}
		return err
	}

	s.refresh()
	s.audit.Emit(domain.AuditDomainDeleted, nil, actorIP, map[string]string{"domain_id": id})
	return nil
}

func (s *DomainService) refresh() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Refresh(); err != nil {
		s.log.Warn("domain cache refresh after change failed", zap.Error(err))
	}
}
