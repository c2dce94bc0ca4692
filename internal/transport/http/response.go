package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sefisk/10minutemail/internal/apperrors"
)

// ErrorBody 错误响应的统一信封。
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse {error:{code,message,details?}}
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// maskInternal 生产环境屏蔽内部错误消息。
var maskInternal bool

// ConfigureErrors 设置错误信息披露策略，启动时调用一次。
func ConfigureErrors(production bool) {
	maskInternal = production
}

// statusOf 错误类别到 HTTP 状态码的映射。
func statusOf(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAuthentication:
		return http.StatusUnauthorized
	case apperrors.KindAuthorization:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindRateLimit:
		return http.StatusTooManyRequests
	case apperrors.KindPOP3:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError 写出错误信封。
func WriteError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)

	message := err.Error()
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		message = ae.Message
	}
	if (kind == apperrors.KindInternal || kind == apperrors.KindEncryption) && maskInternal {
		message = "internal error"
	}

	c.JSON(statusOf(kind), ErrorResponse{Error: ErrorBody{
		Code:    string(kind),
		Message: message,
	}})
}

// AbortError 写出错误信封并中止后续处理。
func AbortError(c *gin.Context, err error) {
	WriteError(c, err)
	c.Abort()
}

// OK 200 响应。
func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// Created 201 响应。
func Created(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
