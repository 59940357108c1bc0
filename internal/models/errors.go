package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPattern 详情页没有可识别的分集寻址方案(该剧集终止,不自动重试)
	ErrNoPattern = errors.New("未识别到分集URL模式")

	// ErrResolutionExhausted 所有解析策略均失败
	ErrResolutionExhausted = errors.New("所有解析策略均失败")

	// ErrNotFound 存储中不存在该记录
	ErrNotFound = errors.New("记录不存在")

	// ErrDuplicate 唯一约束冲突: 该单元已经被写入
	ErrDuplicate = errors.New("记录已存在")

	// ErrPartialCompletion 运行结束但仍有剧集未完成 (退出码2)
	ErrPartialCompletion = errors.New("部分剧集未完成")
)

// ErrorCategory 抓取失败分类
type ErrorCategory string

const (
	CategoryNetwork   ErrorCategory = "network"    // DNS/超时/连接重置
	CategoryAuth      ErrorCategory = "auth"       // 登录/验证墙, HTTP 401/403
	CategoryRateLimit ErrorCategory = "rate_limit" // 限流, HTTP 429
	CategoryServer    ErrorCategory = "server"     // 5xx/维护页
	CategoryUnknown   ErrorCategory = "unknown"
)

// AllCategories 汇总输出时的固定顺序
var AllCategories = []ErrorCategory{
	CategoryNetwork,
	CategoryAuth,
	CategoryRateLimit,
	CategoryServer,
	CategoryUnknown,
}

// FetchError 已分类的抓取错误
type FetchError struct {
	Category   ErrorCategory
	URL        string
	StatusCode int
	Err        error
}

// Error 实现error接口
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("抓取失败 [%s] %s (HTTP %d): %v", e.Category, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("抓取失败 [%s] %s: %v", e.Category, e.URL, e.Err)
}

// Unwrap 支持errors.Is/As
func (e *FetchError) Unwrap() error {
	return e.Err
}

// CategoryOf 从错误链中取出分类,非FetchError返回unknown
func CategoryOf(err error) ErrorCategory {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return CategoryUnknown
}

// StoreWriteError 存储写入失败,该单元视为未完成
type StoreWriteError struct {
	Op  string
	Key string
	Err error
}

// Error 实现error接口
func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("存储写入失败 [%s %s]: %v", e.Op, e.Key, e.Err)
}

// Unwrap 支持errors.Is/As
func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// ValidationError 配置/头部验证错误
type ValidationError struct {
	// Field 出错的字段
	Field string

	// HeaderName 头部名称 (仅头部验证时使用)
	HeaderName string

	// Reason 错误原因
	Reason string

	// Suggestion 修复建议 (可选)
	Suggestion string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	subject := e.Field
	if e.HeaderName != "" {
		subject = e.HeaderName
	}
	msg := fmt.Sprintf("验证失败 [%s]: %s", subject, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
