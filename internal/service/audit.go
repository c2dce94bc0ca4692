package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/domain"
)

// AuditWriter 审计存储子集。
type AuditWriter interface {
	InsertAuditLog(entry *domain.AuditLog) error
}

// AuditService 异步审计事件写入器。
//
// 事件经有界通道缓冲，由独立协程落库。缓冲满时丢弃并告警，
// 绝不阻塞或失败触发它的请求。
type AuditService struct {
	store  AuditWriter
	events chan *domain.AuditLog
	log    *zap.Logger
}

// NewAuditService 创建审计服务。
func NewAuditService(store AuditWriter, log *zap.Logger) *AuditService {
	return &AuditService{
		store:  store,
		events: make(chan *domain.AuditLog, 256),
		log:    log,
	}
}

// Emit 记录一条审计事件（非阻塞，尽力而为）。
func (s *AuditService) Emit(kind string, inboxID *string, actorIP string, metadata map[string]string) {
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		EventKind: kind,
		InboxID:   inboxID,
		ActorIP:   actorIP,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case s.events <- entry:
	default:
		s.log.Warn("audit buffer full, event dropped",
			zap.String("event_kind", kind),
		)
	}
}

// Run 持续落库，直到 ctx 取消后排空缓冲。
func (s *AuditService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case entry := <-s.events:
			s.write(entry)
		}
	}
}

func (s *AuditService) drain() {
	for {
		select {
		case entry := <-s.events:
			s.write(entry)
		default:
			return
		}
	}
}

func (s *AuditService) write(entry *domain.AuditLog) {
	if err := s.store.InsertAuditLog(entry); err != nil {
		// 审计失败绝不上抛
		s.log.Error("audit write failed",
			zap.String("event_kind", entry.EventKind),
			zap.Error(err),
		)
	}
}
