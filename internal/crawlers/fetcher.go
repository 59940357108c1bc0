package crawlers

import (
	"context"
	"net/http"
	"time"
)

// Page 抓取结果,Body 已解压并转换为UTF-8
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTML 页面文本
func (p *Page) HTML() string {
	if p == nil {
		return ""
	}
	return string(p.Body)
}

// Fetcher 页面抓取接口
// 实现只在传输层失败时返回错误,HTTP状态码由调用方判断
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetcherFunc 函数适配器
type FetcherFunc func(ctx context.Context, url string) (*Page, error)

// Fetch 实现 Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Page, error) {
	return f(ctx, url)
}

// FetchConfig 抓取配置
type FetchConfig struct {
	Timeout     time.Duration // 单次抓取超时
	UserAgent   string
	MaxInFlight int64   // 全局同时进行的请求上限
	RPS         float64 // 每主机每秒请求数, <=0 不限
	Burst       int
	Headless    bool // 浏览器模式是否无头
	BrowserTabs int  // 浏览器模式标签页数量
}

// DefaultFetchConfig 默认抓取配置
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:     10 * time.Second,
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		MaxInFlight: 32,
		Burst:       1,
		Headless:    true,
		BrowserTabs: 4,
	}
}
