package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/sooshee9/AIR01/internal/vsir/form"
	"github.com/sooshee9/AIR01/internal/vsir/service"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// fail maps service errors onto the envelope.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotAuthenticated), errors.Is(err, service.ErrSessionClosed):
		Unauthorized(c, "No open VSIR session")
	case errors.Is(err, form.ErrVendorBatchRequired):
		BadRequest(c, err.Error())
	case errors.Is(err, service.ErrConfirmationNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrRecordNotFound), errors.Is(err, store.ErrNotFound):
		NotFound(c, "Record not found")
	default:
		InternalError(c, err.Error())
	}
}
