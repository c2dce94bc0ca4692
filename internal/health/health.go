package health

import (
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 就绪检查所需的最小存储接口。
type Pinger interface {
	Health() error
}

// Checker 聚合存活与就绪检查。
type Checker struct {
	handler healthcheck.Handler
	log     *zap.Logger
}

// NewChecker 创建健康检查器。
//
// 存活检查看 goroutine 数量是否失控；就绪检查 ping 数据库。
func NewChecker(store Pinger, log *zap.Logger) *Checker {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(2048))
	h.AddReadinessCheck("database", func() error {
		return store.Health()
	})

	return &Checker{handler: h, log: log}
}

// LiveEndpoint 存活探针。
func (c *Checker) LiveEndpoint() http.Handler {
	return http.HandlerFunc(c.handler.LiveEndpoint)
}

// ReadyEndpoint 就绪探针。
func (c *Checker) ReadyEndpoint() http.Handler {
	return http.HandlerFunc(c.handler.ReadyEndpoint)
}

// WaitReady 阻塞直到就绪或超时，启动自检用。
func (c *Checker) WaitReady(timeout time.Duration, store Pinger) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if store.Health() == nil {
			return true
		}
		time.Sleep(250 * time.Millisecond)
	}
	return false
}
