package types

import (
	"fmt"
	"strings"
)

// ValidationError 配置校验失败, 在任何状态变更之前抛出。
type ValidationError struct {
	// Fields 违反约束的字段名列表
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

// NewValidationError 创建校验错误
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// NotFoundError 未知的workflow/handler/agent id, 绝不静默返回默认值。
type NotFoundError struct {
	// Kind 资源类别(如 "workflow", "handler", "agent")
	Kind string

	// ID 查找失败的标识
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// BackendError 触发器后端或模型后端拒绝了操作
// (cron语法错误, webhook头不匹配, HTTP非2xx等)。
type BackendError struct {
	// Backend 后端标识
	Backend string

	// Message 错误描述
	Message string

	// Err 底层错误(可选)
	Err error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError 创建后端错误
func NewBackendError(backend, message string) *BackendError {
	return &BackendError{Backend: backend, Message: message}
}

// ProtocolError 模型响应未通过JSON/结构校验
type ProtocolError struct {
	// Message 错误描述
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// NewProtocolError 创建协议错误
func NewProtocolError(message string) *ProtocolError {
	return &ProtocolError{Message: message}
}

// ToolError 工具自身的execute失败或返回了非法结果
type ToolError struct {
	// ToolName 工具名称
	ToolName string

	// Message 错误描述
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.ToolName, e.Message)
}
