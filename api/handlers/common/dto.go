// Package common 各接口共用的响应结构
package common

import (
	"time"

	"zeno/internal/apperr"
)

// ErrorResponse 统一错误返回结构，只包含简短信息与错误类别
type ErrorResponse struct {
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewErrorResponse 创建错误响应，时间戳为 UTC RFC3339
func NewErrorResponse(message string, kind apperr.Kind) ErrorResponse {
	return ErrorResponse{
		Message:   message,
		Error:     string(kind),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// MessageResponse 只含提示信息的响应
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
