package apperr

import (
	"errors"
	"net/http"
)

// Kind 错误分类，用于日志、指标和对外响应
type Kind string

const (
	KindConfiguration Kind = "configuration_error" // 启动配置缺失或非法
	KindExtraction    Kind = "extraction_error"    // 文档文本提取失败
	KindEmbedding     Kind = "embedding_error"     // 向量化服务失败
	KindGeneration    Kind = "generation_error"    // 大模型生成失败
	KindRetrieval     Kind = "retrieval_error"     // 向量检索失败
	KindValidation    Kind = "validation_error"    // 请求参数非法
	KindUnknown       Kind = "unknown_error"
)

// Error 带分类的应用错误
type Error struct {
	Kind    Kind   // 错误分类
	Message string // 对外可见的简短描述
	Err     error  // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建不带原因的错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 用指定分类包装错误
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误链中第一个应用错误的分类
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is 判断错误链是否属于指定分类
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf 返回适合对外展示的简短描述
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus 错误分类对应的 HTTP 状态码
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindExtraction:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
