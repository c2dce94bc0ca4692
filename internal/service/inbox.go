package service

import (
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/crypto"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/storage"
)

const localPartCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// CreateInboxInput 创建邮箱的输入。
type CreateInboxInput struct {
	Mode string // "external" 或 "generated"

	// external 模式
	Email    string
	POP3Host string
	POP3Port int
	POP3TLS  bool
	Username string
	Password string

	// generated 模式
	DomainID string // 留空时取第一个活动域名

	TTLSeconds int
	IP         string
}

// CreateInboxResult 创建结果。原始令牌只在这里出现一次。
type CreateInboxResult struct {
	Inbox    *domain.Inbox
	RawToken string
	// generated 模式下回显一次明文口令
	Password string
}

// InboxService 邮箱生命周期。
type InboxService struct {
	store  storage.Store
	cipher *crypto.Cipher
	tokens *TokenService
	audit  *AuditService
	cfg    *config.Config
	log    *zap.Logger
}

// NewInboxService 创建邮箱服务。
func NewInboxService(store storage.Store, cipher *crypto.Cipher, tokens *TokenService, audit *AuditService, cfg *config.Config, log *zap.Logger) *InboxService {
	return &InboxService{
		store:  store,
		cipher: cipher,
		tokens: tokens,
		audit:  audit,
		cfg:    cfg,
		log:    log,
	}
}

// Create 创建邮箱并签发首张令牌。
func (s *InboxService) Create(input CreateInboxInput) (*CreateInboxResult, error) {
	switch input.Mode {
	case "external":
		return s.createExternal(input)
	case "generated":
		return s.createGenerated(input)
	default:
		return nil, apperrors.Validationf("mode must be external or generated")
	}
}

// createExternal 接入用户自带的第三方 POP3 邮箱。
func (s *InboxService) createExternal(input CreateInboxInput) (*CreateInboxResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || len(email) > 320 || !strings.Contains(email, "@") {
		return nil, apperrors.Validationf("invalid email address")
	}
	if input.POP3Host == "" {
		return nil, apperrors.Validationf("pop3_host is required")
	}
	if input.Username == "" || input.Password == "" {
		return nil, apperrors.Validationf("username and password are required")
	}

	port := input.POP3Port
	if port == 0 {
		port = 995
	}
	if port < 1 || port > 65535 {
		return nil, apperrors.Validationf("invalid pop3_port")
	}

	// 生产环境拒绝指向内网的 POP3 主机，防止 SSRF
	if s.cfg.Production() && isForbiddenHost(input.POP3Host) {
		return nil, apperrors.Validationf("pop3_host resolves to a forbidden address")
	}

	return s.persist(&domain.Inbox{
		Email:    email,
		Type:     domain.InboxTypeExternal,
		POP3Host: input.POP3Host,
		POP3Port: port,
		POP3TLS:  input.POP3TLS,
	}, input.Username, input.Password, input)
}

// createGenerated 签发系统生成的邮箱地址。
func (s *InboxService) createGenerated(input CreateInboxInput) (*CreateInboxResult, error) {
	d, err := s.pickDomain(input.DomainID)
	if err != nil {
		return nil, err
	}

	localPart, err := randString(10, localPartCharset)
	if err != nil {
		return nil, err
	}
	password, err := randString(16, localPartCharset)
	if err != nil {
		return nil, err
	}
	email := fmt.Sprintf("%s@%s", localPart, strings.ToLower(d.Domain))

	inbox := &domain.Inbox{
		Email:    email,
		Type:     domain.InboxTypeGenerated,
		DomainID: &d.ID,
	}
	// 非本地域名的邮件经外部 POP3 拉取，坐标从域名继承
	if !d.IsLocal {
		inbox.POP3Host = d.POP3Host
		inbox.POP3Port = d.POP3Port
		inbox.POP3TLS = d.POP3TLS
	}

	result, err := s.persist(inbox, email, password, input)
	if err != nil {
		return nil, err
	}
	result.Password = password
	return result, nil
}

// persist 加密凭据、写库、签发令牌、记审计。
func (s *InboxService) persist(inbox *domain.Inbox, username, password string, input CreateInboxInput) (*CreateInboxResult, error) {
	encUsername, err := s.cipher.Encrypt(username)
	if err != nil {
		return nil, err
	}
	encPassword, err := s.cipher.Encrypt(password)
	if err != nil {
		return nil, err
	}

	ttl := input.TTLSeconds
	if ttl <= 0 {
		ttl = int(s.cfg.Mail.InboxTTL.Seconds())
	}

	now := time.Now().UTC()
	inbox.ID = uuid.NewString()
	inbox.Status = domain.InboxStatusActive
	inbox.EncUsername = encUsername
	inbox.EncPassword = encPassword
	inbox.CreatorIP = input.IP
	inbox.TTLSeconds = ttl
	inbox.CreatedAt = now
	inbox.UpdatedAt = now

	if err := s.store.CreateInbox(inbox); err != nil {
		if err == storage.ErrEmailExists {
			return nil, apperrors.Conflictf("email already exists")
		}
		return nil, err
	}

	rawToken, _, err := s.tokens.Issue(inbox.ID, 0, input.IP)
	if err != nil {
		return nil, err
	}

	s.audit.Emit(domain.AuditInboxCreated, &inbox.ID, input.IP, map[string]string{
		"type":  string(inbox.Type),
		"email": inbox.Email,
	})

	return &CreateInboxResult{Inbox: inbox, RawToken: rawToken}, nil
}

// pickDomain 选取生成邮箱的签发域名。
func (s *InboxService) pickDomain(domainID string) (*domain.MailDomain, error) {
	if domainID != "" {
		d, err := s.store.GetDomain(domainID)
		if err != nil {
			return nil, apperrors.Validationf("unknown domain")
		}
		if !d.IsActive {
			return nil, apperrors.Validationf("domain is not active")
		}
		return d, nil
	}

	domains, err := s.store.ListDomains(true)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, apperrors.Validationf("no active domains configured")
	}
	return &domains[0], nil
}

// Get 按 ID 获取邮箱。
func (s *InboxService) Get(id string) (*domain.Inbox, error) {
	inbox, err := s.store.GetInbox(id)
	if err != nil {
		if err == storage.ErrInboxNotFound {
			return nil, apperrors.NotFoundf("inbox not found")
		}
		return nil, err
	}
	return inbox, nil
}

// Delete 级联删除邮箱：消息、附件清空，活动令牌吊销，
// 凭据密文覆写为空。
func (s *InboxService) Delete(id, actorIP string) error {
	if err := s.store.DeleteInboxCascade(id); err != nil {
		if err == storage.ErrInboxNotFound {
			return apperrors.NotFoundf("inbox not found")
		}
		return err
	}

	s.audit.Emit(domain.AuditInboxDeleted, &id, actorIP, nil)
	return nil
}

// ExpireInboxes 清理 TTL 已过期的活动邮箱，复用删除级联。
// 返回清理数量；后台周期任务调用。
func (s *InboxService) ExpireInboxes() (int, error) {
	expired, err := s.store.ListExpiredActiveInboxes(time.Now().UTC())
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, inbox := range expired {
		if err := s.store.DeleteInboxCascade(inbox.ID); err != nil {
			s.log.Error("expired inbox cleanup failed",
				zap.String("inbox_id", inbox.ID),
				zap.Error(err),
			)
			continue
		}
		cleaned++
		id := inbox.ID
		s.audit.Emit(domain.AuditInboxExpired, &id, "", nil)
	}
	return cleaned, nil
}

// Credentials 解密邮箱凭据（抓取路径内部使用）。
func (s *InboxService) Credentials(inbox *domain.Inbox) (username, password string, err error) {
	username, err = s.cipher.Decrypt(inbox.EncUsername)
	if err != nil {
		return "", "", err
	}
	password, err = s.cipher.Decrypt(inbox.EncPassword)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// isForbiddenHost 识别指向本机或内网的主机。
func isForbiddenHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") ||
		strings.HasSuffix(h, ".local") || strings.HasSuffix(h, ".internal") {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified()
	}
	return false
}

// randString 生成给定字符集上的随机串。
func randString(n int, charset string) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf), nil
}
