package smtp

import (
	"fmt"
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/cache"
	"github.com/sefisk/10minutemail/internal/config"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/mailparse"
	"github.com/sefisk/10minutemail/internal/monitoring"
)

// InboxStore 接收器所需的存储子集。
type InboxStore interface {
	GetActiveInboxByEmail(email string) (*domain.Inbox, error)
	InsertMessages(inboxID string, msgs []*domain.Message) (int, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 【安全说明】
// 这是一个只接收邮件的 SMTP 服务器，预期部署在可信网络边界
// 之内或前置 MTA 之后：
// - 只接收发往本系统托管域名下活动邮箱的邮件
// - RCPT 阶段以本地域名快照做门禁，未知域名一律 550 拒绝
// - 不实现 AUTH，不配置 TLS（因此不通告 STARTTLS）
// - 无任何对外转发能力，不会成为开放中继
type Backend struct {
	store   InboxStore
	parser  *mailparse.Parser
	domains *cache.DomainCache
	limiter *ConnectionLimiter
	metrics *monitoring.Metrics
	cfg     config.SMTPConfig
	log     *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(
	store InboxStore,
	parser *mailparse.Parser,
	domains *cache.DomainCache,
	limiter *ConnectionLimiter,
	metrics *monitoring.Metrics,
	cfg config.SMTPConfig,
	log *zap.Logger,
) *Backend {
	return &Backend{
		store:   store,
		parser:  parser,
		domains: domains,
		limiter: limiter,
		metrics: metrics,
		cfg:     cfg,
		log:     log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}

	if b.limiter != nil && !b.limiter.Acquire() {
		b.reject("session_limit")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	if b.metrics != nil {
		b.metrics.SMTPSessions.Inc()
	}

	return &session{
		backend: b,
		remote:  remote,
	}, nil
}

func (b *Backend) reject(reason string) {
	if b.metrics != nil {
		b.metrics.SMTPRejected.WithLabelValues(reason).Inc()
	}
}

type session struct {
	backend     *Backend
	remote      string
	fromAddress string
	recipients  []recipient
	released    bool
}

// recipient 一个通过门禁的信封收件人，按小写地址记录。
type recipient struct {
	address string
	inboxID string
}

// Mail 处理 MAIL 命令。发件人宽松接受。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 【安全关键】此方法是防止邮件中继的核心：
//  1. 在地址的 @ 处拆出域名
//  2. 域名必须在活动本地域名快照内，否则 550 拒绝中继
//  3. 不区分大小写地查找活动邮箱，不存在则 550 拒绝
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		s.backend.reject("bad_address")
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !s.backend.domains.Contains(parts[1]) {
		s.backend.reject("relay_denied")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "Relay access denied",
		}
	}

	inbox, err := s.backend.store.GetActiveInboxByEmail(addr)
	if err != nil {
		s.backend.reject("unknown_recipient")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Unknown recipient",
		}
	}

	s.recipients = append(s.recipients, recipient{
		address: addr,
		inboxID: inbox.ID,
	})
	return nil
}

// Data 处理邮件内容。
//
// 正文最多累积 MaxMessageBytes，超限拒绝。解析只做一次，然后
// 对每个通过门禁的收件人各自入库；单个收件人失败只记日志，
// 只要至少一个成功就回 OK，全部失败才回硬错误。
func (s *session) Data(r io.Reader) error {
	max := s.backend.cfg.MaxMessageBytes
	raw, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > max {
		s.backend.reject("message_too_large")
		return &gosmtp.SMTPError{
			Code:         552,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      fmt.Sprintf("message exceeds maximum size of %d bytes", max),
		}
	}

	uid := "smtp-" + uuid.NewString()
	parsed, err := s.backend.parser.Parse(raw, uid)
	if err != nil {
		s.backend.reject("unparsable")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}

	delivered := 0
	for _, rcpt := range s.recipients {
		inserted, err := s.backend.store.InsertMessages(rcpt.inboxID, []*domain.Message{parsed.Message()})
		if err != nil {
			s.backend.log.Warn("smtp delivery failed for recipient",
				zap.String("recipient", rcpt.address),
				zap.String("inbox_id", rcpt.inboxID),
				zap.Error(err),
			)
			continue
		}
		delivered++
		if s.backend.metrics != nil {
			s.backend.metrics.MessagesIngested.WithLabelValues("smtp").Add(float64(inserted))
		}
	}

	if delivered == 0 {
		s.backend.reject("delivery_failed")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "delivery failed for all recipients",
		}
	}

	s.backend.log.Info("smtp message delivered",
		zap.String("from", s.fromAddress),
		zap.String("uid", uid),
		zap.Int("recipients", delivered),
		zap.Int("size", len(raw)),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接配额。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.backend.limiter.Release()
		s.released = true
	}
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

// NewServer 按配置组装 go-smtp 服务器。
// 不设置 TLSConfig，因此不通告 STARTTLS；不实现认证扩展。
func NewServer(backend *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	return srv
}
