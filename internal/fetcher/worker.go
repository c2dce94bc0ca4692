package fetcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/crypto"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/mailparse"
	"github.com/sefisk/10minutemail/internal/monitoring"
	"github.com/sefisk/10minutemail/internal/pop3"
)

// Job 一次增量抓取任务。
type Job struct {
	InboxID  string
	SinceUID *string // 为空时使用邮箱当前的 last_seen_uid
	Limit    int
}

// Store 工作器所需的存储子集。
type Store interface {
	GetInbox(id string) (*domain.Inbox, error)
	InsertMessages(inboxID string, msgs []*domain.Message) (int, error)
	AdvanceLastSeenUID(inboxID string, observed *string, newUID string) (bool, error)
}

// Executor 连接池执行入口。
type Executor interface {
	Execute(ctx context.Context, creds pop3.Credentials, op func(pop3.Session) error) error
}

// Worker 执行 UIDL 差分抓取并幂等入库。
type Worker struct {
	store    Store
	pool     Executor
	cipher   *crypto.Cipher
	parser   *mailparse.Parser
	metrics  *monitoring.Metrics
	maxFetch int
	log      *zap.Logger
}

// NewWorker 创建抓取工作器。
func NewWorker(store Store, pool Executor, cipher *crypto.Cipher, parser *mailparse.Parser, metrics *monitoring.Metrics, maxFetch int, log *zap.Logger) *Worker {
	if maxFetch <= 0 {
		maxFetch = 50
	}
	return &Worker{
		store:    store,
		pool:     pool,
		cipher:   cipher,
		parser:   parser,
		metrics:  metrics,
		maxFetch: maxFetch,
		log:      log,
	}
}

// Run 执行一次抓取任务。
//
// 凭据级失败使任务整体失败；单封邮件的取回或解析失败只记日志并
// 跳过，不中断任务。全部消息与附件在一个事务内提交；提交后若确有
// 取回，条件推进 last_seen_uid 到实际取回切片的最后一个 UID。
func (w *Worker) Run(ctx context.Context, job Job) error {
	inbox, err := w.store.GetInbox(job.InboxID)
	if err != nil {
		w.observe("error")
		return err
	}
	if !inbox.Active() {
		w.observe("inactive")
		return apperrors.Validationf("inbox %s is not active", job.InboxID)
	}

	username, err := w.cipher.Decrypt(inbox.EncUsername)
	if err != nil {
		w.observe("error")
		return fmt.Errorf("decrypt username: %w", err)
	}
	password, err := w.cipher.Decrypt(inbox.EncPassword)
	if err != nil {
		w.observe("error")
		return fmt.Errorf("decrypt password: %w", err)
	}

	sinceUID := job.SinceUID
	if sinceUID == nil {
		sinceUID = inbox.LastSeenUID
	}

	type fetched struct {
		uid string
		raw []byte
	}
	var fetchedMsgs []fetched

	err = w.pool.Execute(ctx, pop3.Credentials{
		Host:     inbox.POP3Host,
		Port:     inbox.POP3Port,
		TLS:      inbox.POP3TLS,
		Username: username,
		Password: password,
	}, func(sess pop3.Session) error {
		entries, err := sess.Uidl()
		if err != nil {
			return err
		}

		candidates := candidatesAfter(entries, sinceUID)
		limit := job.Limit
		if limit <= 0 || limit > w.maxFetch {
			limit = w.maxFetch
		}
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}

		for _, entry := range candidates {
			raw, err := sess.Retr(entry.Num)
			if err != nil {
				// 单封失败跳过，不中断任务
				w.log.Warn("retr failed, message skipped",
					zap.String("inbox_id", job.InboxID),
					zap.String("uid", entry.UID),
					zap.Error(err),
				)
				continue
			}
			fetchedMsgs = append(fetchedMsgs, fetched{uid: entry.UID, raw: raw})
		}
		return nil
	})
	if err != nil {
		w.observe("pop3_error")
		return apperrors.Wrap(apperrors.KindPOP3, "fetch session failed", err)
	}

	if len(fetchedMsgs) == 0 {
		w.observe("empty")
		return nil
	}

	msgs := make([]*domain.Message, 0, len(fetchedMsgs))
	for _, f := range fetchedMsgs {
		parsed, err := w.parser.Parse(f.raw, f.uid)
		if err != nil {
			w.log.Warn("parse failed, message skipped",
				zap.String("inbox_id", job.InboxID),
				zap.String("uid", f.uid),
				zap.Error(err),
			)
			continue
		}
		msgs = append(msgs, parsed.Message())
	}

	inserted, err := w.store.InsertMessages(job.InboxID, msgs)
	if err != nil {
		w.observe("error")
		return fmt.Errorf("persist messages: %w", err)
	}
	if w.metrics != nil {
		w.metrics.MessagesIngested.WithLabelValues("pop3").Add(float64(inserted))
	}

	// 游标推进以服务器顺序的最后一个实际取回 UID 为准；
	// 条件更新输掉竞争时保留对方的游标，绝不回退。
	lastUID := fetchedMsgs[len(fetchedMsgs)-1].uid
	advanced, err := w.store.AdvanceLastSeenUID(job.InboxID, inbox.LastSeenUID, lastUID)
	if err != nil {
		w.observe("error")
		return fmt.Errorf("advance cursor: %w", err)
	}
	if !advanced {
		w.log.Debug("cursor advance lost race, kept concurrent value",
			zap.String("inbox_id", job.InboxID),
			zap.String("uid", lastUID),
		)
	}

	w.observe("ok")
	w.log.Info("fetch job completed",
		zap.String("inbox_id", job.InboxID),
		zap.Int("fetched", len(fetchedMsgs)),
		zap.Int("inserted", inserted),
	)
	return nil
}

func (w *Worker) observe(result string) {
	if w.metrics != nil {
		w.metrics.FetchJobs.WithLabelValues(result).Inc()
	}
}

// candidatesAfter 计算待抓取集合。
//
// sinceUID 在 UIDL 列表中命中时取其后的后缀（不含命中项）；
// 缺失或未命中（首抓或服务商 UID 重置）时取整个列表。
func candidatesAfter(entries []pop3.UIDLEntry, sinceUID *string) []pop3.UIDLEntry {
	if sinceUID == nil || *sinceUID == "" {
		return entries
	}
	for i, e := range entries {
		if e.UID == *sinceUID {
			return entries[i+1:]
		}
	}
	return entries
}

// Queue 有界任务队列，工作协程数等于连接池并发上限。
//
// 同一邮箱的任务不做合并；需要串行化的调用方自行处理。
// 队列内任务先进先出，但会被工作池交错执行。
type Queue struct {
	worker *Worker
	jobs   chan queuedJob
	size   int
	log    *zap.Logger

	wg sync.WaitGroup
}

type queuedJob struct {
	job  Job
	ctx  context.Context
	done chan error
}

// NewQueue 创建任务队列。
func NewQueue(worker *Worker, workers, queueSize int, log *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 5
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Queue{
		worker: worker,
		jobs:   make(chan queuedJob, queueSize),
		size:   workers,
		log:    log,
	}
}

// Start 启动工作协程，直到 ctx 取消。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.size; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item := <-q.jobs:
					err := func() (err error) {
						defer func() {
							if r := recover(); r != nil {
								err = fmt.Errorf("fetch job panic: %v", r)
								q.log.Error("fetch job panicked", zap.Any("panic", r))
							}
						}()
						return q.worker.Run(item.ctx, item.job)
					}()
					item.done <- err
				}
			}
		}()
	}
}

// Submit 提交任务并返回完成通道；队列满时返回错误。
func (q *Queue) Submit(ctx context.Context, job Job) (<-chan error, error) {
	done := make(chan error, 1)
	select {
	case q.jobs <- queuedJob{job: job, ctx: ctx, done: done}:
		return done, nil
	default:
		return nil, apperrors.New(apperrors.KindRateLimit, "fetch queue is full")
	}
}

// Wait 等待全部工作协程退出。
func (q *Queue) Wait() {
	q.wg.Wait()
}
