package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/domain"
	"github.com/sefisk/10minutemail/internal/service"
)

// InboxHandler 邮箱生命周期接口。
type InboxHandler struct {
	inboxes *service.InboxService
	tokens  *service.TokenService
	audit   *service.AuditService
	log     *zap.Logger
}

// NewInboxHandler 创建邮箱处理器。
func NewInboxHandler(inboxes *service.InboxService, tokens *service.TokenService, audit *service.AuditService, log *zap.Logger) *InboxHandler {
	return &InboxHandler{inboxes: inboxes, tokens: tokens, audit: audit, log: log}
}

// createInboxRequest POST /v1/inboxes 的请求体。
type createInboxRequest struct {
	Mode       string `json:"mode" binding:"required"`
	Email      string `json:"email"`
	POP3Host   string `json:"pop3_host"`
	POP3Port   int    `json:"pop3_port"`
	POP3TLS    *bool  `json:"pop3_tls"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DomainID   string `json:"domain_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// inboxResponse 创建响应；token 只在这里出现一次。
type inboxResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Token     string     `json:"token"`
	Password  string     `json:"password,omitempty"`
	ExpiresIn int        `json:"expires_in_seconds"`
	CreatedAt time.Time  `json:"created_at"`
}

// Create POST /v1/inboxes
func (h *InboxHandler) Create(c *gin.Context) {
	var req createInboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}

	tls := true
	if req.POP3TLS != nil {
		tls = *req.POP3TLS
	}

	result, err := h.inboxes.Create(service.CreateInboxInput{
		Mode:       req.Mode,
		Email:      req.Email,
		POP3Host:   req.POP3Host,
		POP3Port:   req.POP3Port,
		POP3TLS:    tls,
		Username:   req.Username,
		Password:   req.Password,
		DomainID:   req.DomainID,
		TTLSeconds: req.TTLSeconds,
		IP:         c.ClientIP(),
	})
	if err != nil {
		WriteError(c, err)
		return
	}

	Created(c, inboxResponse{
		ID:        result.Inbox.ID,
		Email:     result.Inbox.Email,
		Type:      string(result.Inbox.Type),
		Status:    string(result.Inbox.Status),
		Token:     result.RawToken,
		Password:  result.Password,
		ExpiresIn: result.Inbox.TTLSeconds,
		CreatedAt: result.Inbox.CreatedAt,
	})
}

// rotateResponse 轮换响应；新 token 只在这里出现一次。
type rotateResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RotateToken POST /v1/inboxes/:id/token:rotate
//
// 吊销当前全部活动令牌并返回新令牌；旧令牌立即失效。
func (h *InboxHandler) RotateToken(c *gin.Context) {
	inbox := inboxFrom(c)
	if inbox == nil {
		WriteError(c, apperrors.Authenticationf("missing authentication"))
		return
	}

	raw, token, err := h.tokens.Rotate(inbox.ID, 0, c.ClientIP())
	if err != nil {
		WriteError(c, err)
		return
	}

	h.audit.Emit(domain.AuditTokenRotated, &inbox.ID, c.ClientIP(), nil)
	OK(c, rotateResponse{Token: raw, ExpiresAt: token.ExpiresAt})
}

// Delete DELETE /v1/inboxes/:id
func (h *InboxHandler) Delete(c *gin.Context) {
	inbox := inboxFrom(c)
	if inbox == nil {
		WriteError(c, apperrors.Authenticationf("missing authentication"))
		return
	}

	if err := h.inboxes.Delete(inbox.ID, c.ClientIP()); err != nil {
		WriteError(c, err)
		return
	}

	OK(c, gin.H{"deleted": true})
}

// inboxFrom 取出认证中间件附着的邮箱。
func inboxFrom(c *gin.Context) *domain.Inbox {
	v, ok := c.Get("inbox")
	if !ok {
		return nil
	}
	inbox, _ := v.(*domain.Inbox)
	return inbox
}
