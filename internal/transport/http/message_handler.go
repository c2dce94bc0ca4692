package httptransport

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sefisk/10minutemail/internal/apperrors"
	"github.com/sefisk/10minutemail/internal/service"
)

// MessageHandler 消息读取与附件下载。
type MessageHandler struct {
	messages *service.MessageService
	log      *zap.Logger
}

// NewMessageHandler 创建消息处理器。
func NewMessageHandler(messages *service.MessageService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: log}
}

// List GET /v1/inboxes/:id/messages?since_uid&limit&fetch_new
//
// fetch_new=true 时对配置了 POP3 主机的邮箱先触发一次抓取再读缓存；抓取失败不影响响应。
func (h *MessageHandler) List(c *gin.Context) {
	inbox := inboxFrom(c)
	if inbox == nil {
		WriteError(c, apperrors.Authenticationf("missing authentication"))
		return
	}

	sinceUID := c.Query("since_uid")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			WriteError(c, apperrors.Validationf("limit must be an integer between 1 and 200"))
			return
		}
		limit = n
	}
	fetchNew := true
	if raw := c.Query("fetch_new"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(c, apperrors.Validationf("fetch_new must be a boolean"))
			return
		}
		fetchNew = v
	}

	msgs, err := h.messages.List(c.Request.Context(), inbox, sinceUID, limit, fetchNew)
	if err != nil {
		WriteError(c, err)
		return
	}

	OK(c, gin.H{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// DownloadAttachment GET /v1/inboxes/:id/messages/:uid/attachments/:attachmentId
//
// 二进制响应，带 Content-Type、Content-Disposition 与
// X-Checksum-SHA256 头。
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	inbox := inboxFrom(c)
	if inbox == nil {
		WriteError(c, apperrors.Authenticationf("missing authentication"))
		return
	}

	att, err := h.messages.GetAttachment(inbox.ID, c.Param("uid"), c.Param("attachmentId"))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	c.Header("X-Checksum-SHA256", att.Checksum)
	c.Data(200, att.ContentType, att.Content)
}
