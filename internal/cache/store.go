package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Mode 决定 Fetch 如何对待已有的缓存文件。
type Mode int

const (
	// LocalOnly 不做任何 I/O，直接返回缓存路径（无论文件是否存在）。
	LocalOnly Mode = iota
	// FetchOnceIfAbsent 最终文件存在时直接返回，否则下载。
	FetchOnceIfAbsent
	// AlwaysRefresh 总是带 Cache-Control: max-age=0 重新下载，成功后替换旧文件。
	AlwaysRefresh
)

func (m Mode) String() string {
	switch m {
	case LocalOnly:
		return "local-only"
	case FetchOnceIfAbsent:
		return "fetch-once"
	case AlwaysRefresh:
		return "always-refresh"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode 解析诊断接口/配置中的模式名称。
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "fetch-once":
		return FetchOnceIfAbsent, nil
	case "local-only":
		return LocalOnly, nil
	case "always-refresh":
		return AlwaysRefresh, nil
	default:
		return 0, fmt.Errorf("unknown cache mode: %s", raw)
	}
}

// Request 描述一次缓存感知的下载：上游地址、缓存内相对名称、模式与可选进度回调。
type Request struct {
	URI      string
	Name     string
	Mode     Mode
	Progress ProgressFunc
}

// ProgressFunc 接收下载进度。total 未知时为 -1。
// 回调总是经由 Scheduler 投递到消费方执行，不会在网络 worker 上运行。
type ProgressFunc func(path string, downloaded, total int64)

// Scheduler 将回调投递到消费方自己的调度上下文（例如控制循环的 mailbox）。
type Scheduler interface {
	Post(fn func())
}

var (
	// ErrNetwork 表示不可恢复的传输失败，partial 文件保留以便下次续传。
	ErrNetwork = errors.New("network error")
	// ErrNotFound 表示缓存与索引都没有匹配项。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCancelled 表示客户端已被 Abort 或请求上下文已取消。
	ErrCancelled = errors.New("fetch cancelled")
	// ErrRangeSatisfied 表示上游返回 416，partial 已是完整文件，按成功处理。
	ErrRangeSatisfied = errors.New("range already satisfied")
	// ErrMalformedPayload 表示文件未通过基本的格式检查（例如字节数不符）。
	ErrMalformedPayload = errors.New("malformed payload")
)

// StatusError 记录非 2xx/416 的上游响应，可通过 errors.Is 匹配 ErrNetwork。
type StatusError struct {
	Status int
	URI    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URI, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrNetwork
}
