package crawlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// RodFetcher 无头浏览器抓取器 (fetch.mode=browser)
// 适用于分集列表或播放器由JS渲染的页面
type RodFetcher struct {
	cfg            FetchConfig
	headerProvider models.HeaderProvider

	browser *rod.Browser
	tabs    chan *rod.Page // 可复用的标签页
	slots   *tabSlots
}

// tabSlots 已打开标签页计数, 先占位再创建, 保证不超过上限
type tabSlots struct {
	mu     sync.Mutex
	open   int
	max    int
	closed bool
}

// reserve 占用一个位置, 已满返回 false
func (s *tabSlots) reserve() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("浏览器已关闭")
	}
	if s.open >= s.max {
		return false, nil
	}
	s.open++
	return true, nil
}

func (s *tabSlots) free() {
	s.mu.Lock()
	if s.open > 0 {
		s.open--
	}
	s.mu.Unlock()
}

// shutdown 标记关闭, 只有第一次调用返回 true
func (s *tabSlots) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// NewRodFetcher 启动浏览器并创建抓取器
func NewRodFetcher(cfg FetchConfig, headerProvider models.HeaderProvider) (*RodFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchConfig().Timeout
	}
	if cfg.BrowserTabs <= 0 {
		cfg.BrowserTabs = DefaultFetchConfig().BrowserTabs
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Set("ignore-certificate-errors")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	utils.Infof("🌐 浏览器已启动 (标签页上限: %d)", cfg.BrowserTabs)

	return &RodFetcher{
		cfg:            cfg,
		headerProvider: headerProvider,
		browser:        browser,
		tabs:           make(chan *rod.Page, cfg.BrowserTabs),
		slots:          &tabSlots{max: cfg.BrowserTabs},
	}, nil
}

// Fetch 渲染页面并返回最终HTML
func (f *RodFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	page, err := f.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer f.release(page)

	if f.headerProvider != nil {
		if headers, err := f.headerProvider.GetHeaders(); err == nil && len(headers) > 0 {
			dict := make([]string, 0, len(headers)*2)
			for name := range headers {
				dict = append(dict, name, headers.Get(name))
			}
			cleanup, err := page.SetExtraHeaders(dict)
			if err == nil {
				defer cleanup()
			}
		}
	}

	p := page.Context(ctx).Timeout(f.cfg.Timeout)
	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("导航失败 [%s]: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("等待页面加载失败 [%s]: %w", url, err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("读取页面HTML失败 [%s]: %w", url, err)
	}

	finalURL := url
	if info, err := p.Info(); err == nil {
		finalURL = info.URL
	}
	// 浏览器不暴露主文档状态码,渲染成功即视为200
	return &Page{URL: url, FinalURL: finalURL, StatusCode: 200, Body: []byte(html)}, nil
}

func (f *RodFetcher) acquire(ctx context.Context) (*rod.Page, error) {
	select {
	case page := <-f.tabs:
		return page, nil
	default:
	}

	ok, err := f.slots.reserve()
	if err != nil {
		return nil, err
	}
	if !ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case page := <-f.tabs:
			return page, nil
		}
	}

	page, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		f.slots.free()
		return nil, fmt.Errorf("创建标签页失败(浏览器可能已崩溃): %w", err)
	}
	return page, nil
}

func (f *RodFetcher) release(page *rod.Page) {
	select {
	case f.tabs <- page:
	default:
		_ = page.Close()
		f.slots.free()
	}
}

// Close 关闭浏览器
func (f *RodFetcher) Close() error {
	if !f.slots.shutdown() {
		return nil
	}
	utils.Debug("浏览器已关闭")
	return f.browser.Close()
}
