package httptransport

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/service"
)

// AdminHandler 管理接口：域名 CRUD、批量生成、导出、统计。
type AdminHandler struct {
	domains *service.DomainService
	admin   *service.AdminService
	log     *zap.Logger
}

// NewAdminHandler 创建管理处理器。
func NewAdminHandler(domains *service.DomainService, admin *service.AdminService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{domains: domains, admin: admin, log: log}
}

// CreateDomain POST /v1/admin/domains
func (h *AdminHandler) CreateDomain(c *gin.Context) {
	var input service.DomainInput
	if err := c.ShouldBindJSON(&input); err != nil {
		WriteError(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	input.IP = c.ClientIP()

	d, err := h.domains.Create(input)
	if err != nil {
		WriteError(c, err)
		return
	}
	Created(c, d)
}

// ListDomains GET /v1/admin/domains
func (h *AdminHandler) ListDomains(c *gin.Context) {
	domains, err := h.domains.List()
	if err != nil {
		WriteError(c, err)
		return
	}
	OK(c, gin.H{"domains": domains})
}

// UpdateDomain PUT /v1/admin/domains/:id
func (h *AdminHandler) UpdateDomain(c *gin.Context) {
	var input service.DomainInput
	if err := c.ShouldBindJSON(&input); err != nil {
		WriteError(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	input.IP = c.ClientIP()

	d, err := h.domains.Update(c.Param("id"), input)
	if err != nil {
		WriteError(c, err)
		return
	}
	OK(c, d)
}

// DeleteDomain DELETE /v1/admin/domains/:id
func (h *AdminHandler) DeleteDomain(c *gin.Context) {
	if err := h.domains.Delete(c.Param("id"), c.ClientIP()); err != nil {
		WriteError(c, err)
		return
	}
	OK(c, gin.H{"deleted": true})
}

// generateRequest POST /v1/admin/generate 的请求体。
type generateRequest struct {
	Count      int `json:"count" binding:"required"`
	TTLSeconds int `json:"ttl_seconds"`
}

// Generate POST /v1/admin/generate
// 跨活动域名轮转批量创建生成邮箱。
func (h *AdminHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}

	created, err := h.admin.BulkGenerate(req.Count, req.TTLSeconds, c.ClientIP())
	if err != nil {
		WriteError(c, err)
		return
	}
	Created(c, gin.H{"requested": req.Count, "created": created})
}

// Export GET /v1/admin/export?format=text|json|csv
// 导出生成邮箱为 email:password。
func (h *AdminHandler) Export(c *gin.Context) {
	rows, err := h.admin.Export()
	if err != nil {
		WriteError(c, err)
		return
	}

	format := c.DefaultQuery("format", "text")
	switch format {
	case "json":
		OK(c, gin.H{"inboxes": rows})
	case "csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		_ = w.Write([]string{"email", "password"})
		for _, row := range rows {
			_ = w.Write([]string{row.Email, row.Password})
		}
		w.Flush()
		c.Header("Content-Disposition", `attachment; filename="inboxes.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(sb.String()))
	case "text":
		var sb strings.Builder
		for _, row := range rows {
			fmt.Fprintf(&sb, "%s:%s\n", row.Email, row.Password)
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sb.String()))
	default:
		WriteError(c, apperrors.Validationf("format must be text, json or csv"))
	}
}

// Stats GET /v1/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats()
	if err != nil {
		WriteError(c, err)
		return
	}
	OK(c, stats)
}
