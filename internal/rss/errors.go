package rss

import (
	"fmt"
)

// ParseError 表示载荷无法被解码为任何订阅源文档。
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析订阅源失败: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NetworkError 表示传输层失败（DNS、连接被拒绝、请求被取消等）。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("请求 %s 失败: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError 表示在截止时间前没有拿到完整响应。
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("请求 %s 超时: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPStatusError 表示服务端返回了非 2xx 状态码。
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("请求 %s 返回 HTTP %d", e.URL, e.Code)
}

// ConfigError 表示调度参数不合法，Start 会同步返回它。
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置项 %s 无效: %s", e.Field, e.Message)
}
