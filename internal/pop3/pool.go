package pop3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Credentials 一次池内执行所需的明文凭据。
// 只在内存中短暂存在，绝不写日志。
type Credentials struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
}

// Session Execute 的操作回调所看到的已认证客户端。
// *Client 是唯一的生产实现；接口存在只为测试替身。
type Session interface {
	Stat() (count, size int, err error)
	List() ([]ListEntry, error)
	Uidl() ([]UIDLEntry, error)
	Retr(num int) ([]byte, error)
	Dele(num int) error
	Rset() error
	Noop() error
}

// Dialer 建连钩子，测试中可替换为脚本化实现。
type Dialer func(opts Options, log *zap.Logger) (Session, func(), error)

// ThrottledError 主机处于限流窗口内，快速失败。
type ThrottledError struct {
	Host  string
	Until time.Time
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("pop3 host %s throttled until %s", e.Host, e.Until.Format(time.RFC3339))
}

// PoolOptions 连接池参数。
type PoolOptions struct {
	MaxConcurrent  int
	MaxRetries     int
	BackoffBase    time.Duration
	ThrottleWindow time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Pool 有界 POP3 连接池。
//
// 超过并发上限的调用者进入严格 FIFO 的等待队列；释放的槽位
// 直接移交给最老的等待者。每次尝试都使用全新连接，尝试间按
// base × 2^(attempt-1) 指数退避。命中服务商限流信号时记录
// 主机级冷却窗口并放弃剩余重试；窗口内对该主机的执行不占用
// 槽位、不建套接字，立即失败。
type Pool struct {
	opts PoolOptions
	dial Dialer
	log  *zap.Logger

	mu       sync.Mutex
	inFlight int
	waiters  []chan struct{}
	throttle map[string]time.Time

	now func() time.Time

	// 可选的观测钩子，由启动代码接到指标上。
	OnRetry    func()
	OnThrottle func()
}

// NewPool 创建连接池。
func NewPool(opts PoolOptions, log *zap.Logger) *Pool {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.ThrottleWindow <= 0 {
		opts.ThrottleWindow = 30 * time.Second
	}
	return &Pool{
		opts:     opts,
		dial:     defaultDialer,
		log:      log,
		throttle: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetDialer 替换建连钩子，仅用于测试。
func (p *Pool) SetDialer(d Dialer) {
	p.dial = d
}

func defaultDialer(opts Options, log *zap.Logger) (Session, func(), error) {
	c, err := Dial(opts, log)
	if err != nil {
		return nil, nil, err
	}
	return c, func() {
		if err := c.Quit(); err != nil {
			log.Debug("pop3 quit failed", zap.Error(err))
			c.Close()
		}
	}, nil
}

// InFlight 返回当前在途执行数（含等待者占用前的量）。
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Execute 在池内对给定凭据执行 op。
//
// op 收到的是已通过 USER/PASS 认证的会话；返回后连接以 QUIT
// 收尾。整个尝试序列持有同一个槽位，除非限流提前退出。
func (p *Pool) Execute(ctx context.Context, creds Credentials, op func(Session) error) error {
	if until, throttled := p.throttledUntil(creds.Host); throttled {
		if p.OnThrottle != nil {
			p.OnThrottle()
		}
		return &ThrottledError{Host: creds.Host, Until: until}
	}

	if err := p.acquireSlot(ctx); err != nil {
		return err
	}
	defer p.releaseSlot()

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.attempt(creds, op)
		if lastErr == nil {
			return nil
		}

		if isThrottleSignal(lastErr) {
			until := p.setThrottle(creds.Host)
			p.log.Warn("pop3 host throttled",
				zap.String("host", creds.Host),
				zap.Time("until", until),
				zap.Error(lastErr),
			)
			return &ThrottledError{Host: creds.Host, Until: until}
		}

		if attempt < p.opts.MaxRetries {
			if p.OnRetry != nil {
				p.OnRetry()
			}
			backoff := p.opts.BackoffBase << (attempt - 1)
			p.log.Debug("pop3 attempt failed, backing off",
				zap.String("host", creds.Host),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("pop3 execute failed after %d attempts: %w", p.opts.MaxRetries, lastErr)
}

// attempt 打开全新连接、认证、执行 op、QUIT 收尾。
func (p *Pool) attempt(creds Credentials, op func(Session) error) error {
	sess, closeFn, err := p.dial(Options{
		Host:           creds.Host,
		Port:           creds.Port,
		TLS:            creds.TLS,
		ConnectTimeout: p.opts.ConnectTimeout,
		CommandTimeout: p.opts.CommandTimeout,
	}, p.log)
	if err != nil {
		return err
	}
	defer closeFn()

	if auther, ok := sess.(interface{ Auth(user, pass string) error }); ok {
		if err := auther.Auth(creds.Username, creds.Password); err != nil {
			return err
		}
	}

	return op(sess)
}

// acquireSlot 获取执行槽位；超限时按 FIFO 排队。
func (p *Pool) acquireSlot(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight < p.opts.MaxConcurrent {
		p.inFlight++
		p.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	p.waiters = append(p.waiters, ready)
	p.mu.Unlock()

	select {
	case <-ready:
		// 槽位由释放方直接移交，计数不变
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, w := range p.waiters {
			if w == ready {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		p.mu.Unlock()
		// 已被唤醒但同时取消：槽位已移交，必须归还
		p.releaseSlot()
		return ctx.Err()
	}
}

// releaseSlot 归还槽位；有等待者时移交给最老的一个。
func (p *Pool) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) > 0 {
		ready := p.waiters[0]
		p.waiters = p.waiters[1:]
		close(ready)
		return
	}
	p.inFlight--
}

func (p *Pool) throttledUntil(host string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.throttle[host]
	if !ok || p.now().After(until) {
		delete(p.throttle, host)
		return time.Time{}, false
	}
	return until, true
}

func (p *Pool) setThrottle(host string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	until := p.now().Add(p.opts.ThrottleWindow)
	p.throttle[host] = until
	return until
}

// 已知服务商限流信号。
var throttleSignals = []string{
	"too many connections",
	"login rate",
	"try again later",
	"rate limit",
	"connection frequency",
}

func isThrottleSignal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range throttleSignals {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsThrottled 报告错误是否为限流快速失败。
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}
