package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 系统运行指标。
//
// promauto 在构造时自动注册到默认 Registry。
type Metrics struct {
	MessagesIngested *prometheus.CounterVec // 按来源 (pop3 / smtp) 统计入库消息
	FetchJobs        *prometheus.CounterVec // 按结果统计抓取任务
	POP3Retries      prometheus.Counter     // 连接池重试次数
	POP3Throttled    prometheus.Counter     // 限流快速失败次数
	SMTPSessions     prometheus.Counter     // SMTP 会话数
	SMTPRejected     *prometheus.CounterVec // 按原因统计 SMTP 拒绝
	HTTPRequests     *prometheus.CounterVec // 按方法与状态统计 HTTP 请求
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_messages_ingested_total",
			Help: "Messages persisted to the store, by ingestion source",
		}, []string{"source"}),
		FetchJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_fetch_jobs_total",
			Help: "Fetch worker jobs, by result",
		}, []string{"result"}),
		POP3Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailgate_pop3_retries_total",
			Help: "POP3 pool retry attempts",
		}),
		POP3Throttled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailgate_pop3_throttled_total",
			Help: "POP3 executions rejected by an active throttle window",
		}),
		SMTPSessions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailgate_smtp_sessions_total",
			Help: "Inbound SMTP sessions accepted",
		}),
		SMTPRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_smtp_rejected_total",
			Help: "Inbound SMTP rejections, by reason",
		}, []string{"reason"}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mailgate_http_requests_total",
			Help: "HTTP requests, by method and status",
		}, []string{"method", "status"}),
	}
}

// HTTPHandler 返回 Prometheus 抓取端点。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
