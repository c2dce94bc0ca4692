package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/domain"
)

// DomainLister 刷新快照所需的最小存储接口。
type DomainLister interface {
	ListDomains(activeOnly bool) ([]domain.MailDomain, error)
}

// DomainCache 活动本地域名的内存快照。
//
// SMTP 接收器在 RCPT 阶段用它做域名门禁。快照整体以原子指针
// 替换，读取方永远看到一致的一份；启动时刷新一次，之后由
// Run 按固定间隔刷新。
type DomainCache struct {
	store    DomainLister
	log      *zap.Logger
	snapshot atomic.Pointer[map[string]domain.MailDomain]
}

// NewDomainCache 创建空缓存；调用方应立即 Refresh 一次。
func NewDomainCache(store DomainLister, log *zap.Logger) *DomainCache {
	c := &DomainCache{store: store, log: log}
	empty := make(map[string]domain.MailDomain)
	c.snapshot.Store(&empty)
	return c
}

// Refresh 从存储加载活动域名并原子替换快照。
func (c *DomainCache) Refresh() error {
	domains, err := c.store.ListDomains(true)
	if err != nil {
		return err
	}

	next := make(map[string]domain.MailDomain, len(domains))
	for _, d := range domains {
		next[strings.ToLower(d.Domain)] = d
	}
	c.snapshot.Store(&next)

	c.log.Debug("domain cache refreshed", zap.Int("domains", len(next)))
	return nil
}

// Run 按 interval 周期刷新，直到 ctx 取消。刷新失败只记日志。
func (c *DomainCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(); err != nil {
				c.log.Error("domain cache refresh failed", zap.Error(err))
			}
		}
	}
}

// Lookup 按域名（不区分大小写）查找活动域名。
func (c *DomainCache) Lookup(name string) (domain.MailDomain, bool) {
	snap := *c.snapshot.Load()
	d, ok := snap[strings.ToLower(name)]
	return d, ok
}

// Contains 报告域名是否在活动集合内。
func (c *DomainCache) Contains(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}
