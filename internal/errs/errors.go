// Package errs 定义 ingest / alert 共用的错误分类：
// ValidationError（必填字段缺失或格式错误，评估前中止）、
// ConversionError（可选数值字段无法转换，本地恢复为"字段缺失"）、
// DependencyError（存储或邮件调用失败，向调用方传播）。
package errs

import (
	"errors"
	"fmt"
)

// ValidationError 必填输入缺失或格式错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidation 创建校验错误
func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConversionError 可选字段存在但无法转换为数值，只用于日志
type ConversionError struct {
	Field string
	Value interface{}
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s=%v to a number", e.Field, e.Value)
}

// DependencyError 外部依赖（存储 / 邮件 / 分发）调用失败
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Dependency 包装依赖错误，err 为 nil 时返回 nil
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Op: op, Err: err}
}

// IsDependency 判断是否为依赖错误
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
