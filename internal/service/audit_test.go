package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/domain"
)

// auditSink 线程安全的审计落库替身。
type auditSink struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
	err     error
}

func (s *auditSink) InsertAuditLog(entry *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *auditSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestAuditEmitAndDrain(t *testing.T) {
	sink := &auditSink{}
	svc := NewAuditService(sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	id := "in-1"
	svc.Emit(domain.AuditInboxCreated, &id, "203.0.113.1", map[string]string{"email": "a@b.c"})
	svc.Emit(domain.AuditTokenRotated, &id, "203.0.113.1", nil)

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestAuditWriteFailureDoesNotPropagate(t *testing.T) {
	sink := &auditSink{err: errors.New("db down")}
	svc := NewAuditService(sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// 写入失败只记日志；Emit 永不阻塞或报错
	svc.Emit(domain.AuditInboxDeleted, nil, "", nil)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestAuditBufferOverflowDrops(t *testing.T) {
	sink := &auditSink{}
	svc := NewAuditService(sink, zap.NewNop())

	// 没有消费协程，灌满缓冲后继续 Emit 也不得阻塞
	for i := 0; i < 300; i++ {
		svc.Emit(domain.AuditInboxCreated, nil, "", nil)
	}
}
