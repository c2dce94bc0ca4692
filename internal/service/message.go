package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/fetcher"
	"github.com/sefisk/10minutemail/internal/storage"
)

// FetchQueue 抓取队列入口。
type FetchQueue interface {
	Submit(ctx context.Context, job fetcher.Job) (<-chan error, error)
}

// MessageService 消息读取与抓取触发。
type MessageService struct {
	store storage.Store
	queue FetchQueue
	log   *zap.Logger
}

// NewMessageService 创建消息服务。
func NewMessageService(store storage.Store, queue FetchQueue, log *zap.Logger) *MessageService {
	return &MessageService{store: store, queue: queue, log: log}
}

// List 返回游标之后的缓存消息；fetchNew 且邮箱配置了 POP3 主机时先触发一次抓取
// （本地 SMTP 收件邮箱不抓取）。
//
// 抓取失败不使请求失败：记警告日志后照常返回缓存集合。
func (s *MessageService) List(ctx context.Context, inbox *domain.Inbox, sinceUID string, limit int, fetchNew bool) ([]domain.Message, error) {
	if fetchNew && inbox.POP3Host != "" {
		s.fetchAndWait(ctx, inbox.ID, limit)
	}

	msgs, err := s.store.ListMessagesSince(inbox.ID, sinceUID, limit)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// fetchAndWait 同步执行一次抓取；任何失败只记日志。
func (s *MessageService) fetchAndWait(ctx context.Context, inboxID string, limit int) {
	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	// 任务本身不绑定请求生命周期：请求超时后任务照常完成并提交，
	// 调用方只是不再等待结果
	done, err := s.queue.Submit(context.Background(), fetcher.Job{InboxID: inboxID, Limit: limit})
	if err != nil {
		s.log.Warn("fetch enqueue failed, returning cached messages",
			zap.String("inbox_id", inboxID),
			zap.Error(err),
		)
		return
	}

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("fetch failed, returning cached messages",
				zap.String("inbox_id", inboxID),
				zap.Error(err),
			)
		}
	case <-waitCtx.Done():
		// 调用方可以忽略迟到的结果，任务照常提交
		s.log.Warn("fetch wait timed out, returning cached messages",
			zap.String("inbox_id", inboxID),
		)
	}
}

// GetAttachment 下载附件（按邮箱范围校验）。
func (s *MessageService) GetAttachment(inboxID, uid, attachmentID string) (*domain.Attachment, error) {
	att, err := s.store.GetAttachment(inboxID, uid, attachmentID)
	if err != nil {
		switch err {
		case storage.ErrMessageNotFound:
			return nil, apperrors.NotFoundf("message not found")
		case storage.ErrAttachmentNotFound:
			return nil, apperrors.NotFoundf("attachment not found")
		}
		return nil, err
	}
	return att, nil
}
